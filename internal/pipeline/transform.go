// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"math"

	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/phrase"
	"github.com/cantoria/cantoria/internal/score"
)

// pauPhoneme is the engine's silence phoneme. Every query begins and ends
// with one.
const pauPhoneme = "pau"

// semitoneRatio returns the multiplicative f0 factor for a semitone shift.
func semitoneRatio(semitones float64) float64 {
	return math.Exp2(semitones / 12.0)
}

// decibelRatio returns the multiplicative gain for a decibel adjustment.
func decibelRatio(db float64) float64 {
	return math.Pow(10.0, db/20.0)
}

// NotesForEngine converts a phrase's score notes to the engine's wire form
// at the given frame rate: one leading silent note from the leading rest,
// the score notes, and a trailing silent note of lastRestSeconds. Frame
// lengths come from rounded boundary times so the total is exact; every
// length is then raised to at least one frame by stealing from the next
// note, left to right.
func NotesForEngine(snap *score.Snapshot, p *phrase.Phrase, frameRate, lastRestSeconds float64) []engine.Note {
	frameAt := func(sec float64) int {
		return int(math.Round(sec * frameRate))
	}
	base := frameAt(p.StartTime)

	notes := make([]engine.Note, 0, len(p.Notes)+2)
	firstStart := snap.TickToSecond(p.Notes[0].Position)
	notes = append(notes, engine.Note{FrameLength: frameAt(firstStart) - base})

	for _, n := range p.Notes {
		start := frameAt(snap.TickToSecond(n.Position))
		end := frameAt(snap.TickToSecond(n.End()))
		key := n.NoteNumber
		notes = append(notes, engine.Note{
			ID:          n.ID,
			Key:         &key,
			FrameLength: end - start,
			Lyric:       n.Lyric,
		})
	}

	notes = append(notes, engine.Note{FrameLength: int(math.Round(lastRestSeconds * frameRate))})

	// Enforce frame length >= 1, stealing the deficit from the next note.
	for i := range notes {
		if notes[i].FrameLength < 1 {
			deficit := 1 - notes[i].FrameLength
			if i+1 < len(notes) {
				notes[i+1].FrameLength -= deficit
			}
			notes[i].FrameLength = 1
		}
	}
	return notes
}

// ShiftNoteKeys returns a copy of notes with every keyed note transposed
// by semitones. Rests pass through unchanged.
func ShiftNoteKeys(notes []engine.Note, semitones int) []engine.Note {
	shifted := make([]engine.Note, len(notes))
	for i, n := range notes {
		shifted[i] = n
		if n.Key != nil {
			key := *n.Key + semitones
			shifted[i].Key = &key
		}
	}
	return shifted
}

// scaleF0 multiplies every f0 value in place.
func scaleF0(f0 []float64, ratio float64) {
	for i := range f0 {
		f0[i] *= ratio
	}
}

// SampledPitchEdits resamples a track's editor-rate pitch edit vector onto
// a phrase's engine frames. The result has one entry per query frame;
// frames without an override carry score.NoPitchEdit. This vector is both
// applied to working queries and hashed into the volume and voice keys.
func SampledPitchEdits(frameTotal int, frameRate float64, edits []float64, startTime, editorRate float64) []float64 {
	sampled := make([]float64, frameTotal)
	for i := range sampled {
		sampled[i] = score.NoPitchEdit
		t := startTime + float64(i)/frameRate
		j := int(math.Round(t * editorRate))
		if j >= 0 && j < len(edits) && edits[j] != score.NoPitchEdit {
			sampled[i] = edits[j]
		}
	}
	return sampled
}

// applySampledPitchEdits overrides f0 frames carrying an edit value.
func applySampledPitchEdits(f0, sampled []float64) {
	for i := range f0 {
		if i < len(sampled) && sampled[i] != score.NoPitchEdit {
			f0[i] = sampled[i]
		}
	}
}

// linearInterpolation maps x from the segment (x1,y1)-(x2,y2).
func linearInterpolation(x1, y1, x2, y2, x float64) float64 {
	return y1 + (y2-y1)*(x-x1)/(x2-x1)
}

// MuteLastPau silences the query's trailing pau in the volume envelope:
// a linear fade of fadeOutSeconds across the pau's first frames, zeroes
// after. A one-frame fade halves the first pau frame.
func MuteLastPau(q *engine.Query, volume []float64, fadeOutSeconds float64) error {
	if len(q.FramePhonemes) == 0 {
		return ErrEmptyPhonemes
	}
	last := q.FramePhonemes[len(q.FramePhonemes)-1]
	if last.Phoneme != pauPhoneme {
		return ErrMissingTrailingPau
	}
	total := q.FrameTotal()
	if len(volume) != total {
		return ErrFrameCountMismatch
	}

	pauLen := last.FrameLength
	start := total - pauLen
	fade := int(math.Round(fadeOutSeconds * q.FrameRate))
	if fade < 0 {
		fade = 0
	}
	if fade > pauLen {
		fade = pauLen
	}

	switch {
	case fade == 1:
		volume[start] *= 0.5
	case fade > 1:
		for i := 0; i < fade; i++ {
			volume[start+i] *= linearInterpolation(0, 1, float64(fade-1), 0, float64(i))
		}
	}
	for i := start + fade; i < total; i++ {
		volume[i] = 0
	}
	return nil
}
