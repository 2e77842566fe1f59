// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"math"
	"sort"

	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/phrase"
	"github.com/cantoria/cantoria/internal/score"
)

// phonemeStarts returns each phoneme's start frame within the query.
func phonemeStarts(q *engine.Query) []int {
	starts := make([]int, len(q.FramePhonemes))
	acc := 0
	for i, p := range q.FramePhonemes {
		starts[i] = acc
		acc += p.FrameLength
	}
	return starts
}

// findTimingEdit returns the offset for a phoneme's index within its note,
// or 0 when no edit exists.
func findTimingEdit(edits []score.PhonemeTimingEdit, phonemeIndex int) float64 {
	for _, e := range edits {
		if e.PhonemeIndex == phonemeIndex {
			return e.OffsetSeconds
		}
	}
	return 0
}

// ApplyPhonemeTimingEdits returns a clone of the query with phoneme
// boundaries moved by the user's timing edits.
//
// Description:
//
//	An edit for phoneme k moves the boundary between phoneme k-1 and k by
//	round(offset * frameRate) frames. Moves are clamped so both neighbours
//	keep at least one frame, which keeps boundaries monotone non-decreasing
//	and the frame total unchanged, so the f0 and volume arrays stay
//	aligned. Edits that cannot be honoured are applied up to the clamp.
func ApplyPhonemeTimingEdits(q *engine.Query, edits map[string][]score.PhonemeTimingEdit) *engine.Query {
	clone := q.Clone()
	if len(edits) == 0 {
		return clone
	}

	starts := phonemeStarts(clone)
	total := clone.FrameTotal()
	occurrence := make(map[string]int)

	for k, p := range clone.FramePhonemes {
		indexInNote := -1
		if p.NoteID != "" {
			indexInNote = occurrence[p.NoteID]
			occurrence[p.NoteID]++
		}
		if k == 0 || indexInNote < 0 {
			continue
		}
		offset := findTimingEdit(edits[p.NoteID], indexInNote)
		if offset == 0 {
			continue
		}

		moved := starts[k] + int(math.Round(offset*clone.FrameRate))
		lo := starts[k-1] + 1
		hi := total - 1
		if k+1 < len(starts) {
			hi = starts[k+1] - 1
		}
		if moved < lo {
			moved = lo
		}
		if moved > hi {
			moved = hi
		}
		starts[k] = moved
	}

	for k := range clone.FramePhonemes {
		end := total
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		clone.FramePhonemes[k].FrameLength = end - starts[k]
	}
	return clone
}

// timingEntry pairs a successful query with its phrase for the track-level
// adjust pass.
type timingEntry struct {
	startTime float64
	phr       *phrase.Phrase
}

// adjustTrackTiming applies timing edits to every successful query of a
// track, in phrase start order, and fills each phrase's adjusted-query
// slot. Each query is edited on its own and keeps its frame total, so
// edited boundaries stay inside that query's frame range; no clamp against
// a neighbouring phrase's frames is applied.
func adjustTrackTiming(track *score.Track, entries []timingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].startTime < entries[j].startTime
	})
	for _, e := range entries {
		e.phr.PhonemeTimingEditingAppliedQuery = ApplyPhonemeTimingEdits(e.phr.Query, track.PhonemeTimingEdits)
	}
}
