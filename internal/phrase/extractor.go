// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phrase

import (
	"fmt"
	"math"

	"github.com/cantoria/cantoria/internal/score"
)

// ExtractOptions tunes phrase extraction.
type ExtractOptions struct {
	// FirstRestMinDurationSeconds is the floor on a phrase's leading rest.
	FirstRestMinDurationSeconds float64
}

// Extract splits every track of the snapshot into phrases.
//
// Description:
//
//	Overlapping notes are dropped first. The remaining notes are walked in
//	order and a new phrase starts at every tick gap. Each phrase gets a
//	bounded leading rest: the gap to the previous phrase (or the track
//	start), capped at one quarter note, raised to the configured minimum,
//	and floored at one tick.
//
// Outputs:
//
//	map[Key]*Phrase - phrases keyed by content hash.
//	[]Key - keys in deterministic order: snapshot track order, then phrase
//	        start order. Used to make task construction reproducible.
func Extract(snap *score.Snapshot, opts ExtractOptions) (map[Key]*Phrase, []Key, error) {
	phrases := make(map[Key]*Phrase)
	var order []Key

	for ti := range snap.Tracks {
		track := &snap.Tracks[ti]
		notes := filterOverlapping(track, snap.OverlappingNoteIDs[track.ID])
		if len(notes) == 0 {
			continue
		}

		runs := splitAtGaps(notes)
		var prevEnd int64 = -1
		for _, run := range runs {
			p, err := buildPhrase(snap, track, run, prevEnd, opts)
			if err != nil {
				return nil, nil, err
			}
			prevEnd = p.EndTicks
			if _, exists := phrases[p.Key]; !exists {
				order = append(order, p.Key)
			}
			phrases[p.Key] = p
		}
	}
	return phrases, order, nil
}

// filterOverlapping drops the notes listed as overlapping for the track.
func filterOverlapping(track *score.Track, overlaps map[string]struct{}) []score.Note {
	if len(overlaps) == 0 {
		return track.Notes
	}
	kept := make([]score.Note, 0, len(track.Notes))
	for _, n := range track.Notes {
		if _, drop := overlaps[n.ID]; drop {
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

// splitAtGaps cuts the note list into maximal contiguous runs.
func splitAtGaps(notes []score.Note) [][]score.Note {
	var runs [][]score.Note
	start := 0
	for i := 1; i < len(notes); i++ {
		if notes[i].Position != notes[i-1].End() {
			runs = append(runs, notes[start:i])
			start = i
		}
	}
	runs = append(runs, notes[start:])
	return runs
}

// buildPhrase computes one phrase's leading rest, timing, and key.
// prevEnd is the previous phrase's last note end, or -1 for the first
// phrase of the track.
func buildPhrase(snap *score.Snapshot, track *score.Track, run []score.Note, prevEnd int64, opts ExtractOptions) (*Phrase, error) {
	first := run[0]
	quarter := int64(snap.TPQN)

	var rest int64
	if prevEnd < 0 {
		rest = min64(first.Position, quarter)
	} else {
		rest = min64(first.Position-prevEnd, quarter)
	}

	if opts.FirstRestMinDurationSeconds > 0 {
		startSecond := snap.TickToSecond(first.Position)
		restStartTick := snap.SecondToTick(startSecond - opts.FirstRestMinDurationSeconds)
		minRest := int64(math.Ceil(float64(first.Position) - restStartTick))
		if rest < minRest {
			rest = minRest
		}
	}
	if rest < 1 {
		rest = 1
	}

	last := run[len(run)-1]
	startTime := snap.TickToSecond(first.Position - rest)

	notes := make([]score.Note, len(run))
	copy(notes, run)

	key, err := ComputeKey(rest, notes, startTime, track.ID)
	if err != nil {
		return nil, fmt.Errorf("phrase key for track %q: %w", track.ID, err)
	}

	return &Phrase{
		Key:               key,
		Singer:            track.Singer,
		FirstRestDuration: rest,
		Notes:             notes,
		StartTicks:        first.Position,
		EndTicks:          last.End(),
		StartTime:         startTime,
		TrackID:           track.ID,
	}, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
