// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine defines the synthesis engine API the rendering pipeline
// depends on: four operations over plain values. The HTTP implementation
// talks to a locally running engine process; the mock implementation backs
// the test suite.
package engine

import (
	"context"
)

// FramePhoneme is one phoneme of a frame audio query with its length in
// frames. NoteID links the phoneme back to the score note it was derived
// from; it is empty for inserted silence.
type FramePhoneme struct {
	Phoneme     string `json:"phoneme"`
	FrameLength int    `json:"frame_length"`
	NoteID      string `json:"note_id,omitempty"`
}

// Query is the engine's frame audio query for one phrase: an ordered
// phoneme sequence plus dense per-frame f0 and volume arrays.
//
// Invariant: the sum of all FrameLength values equals len(F0) and
// len(Volume), and every FrameLength is at least 1.
type Query struct {
	FramePhonemes []FramePhoneme `json:"frame_phonemes"`
	FrameRate     float64        `json:"frame_rate"`
	F0            []float64      `json:"f0"`
	Volume        []float64      `json:"volume"`
}

// FrameTotal returns the query's frame count, summed over the phonemes.
func (q *Query) FrameTotal() int {
	total := 0
	for _, p := range q.FramePhonemes {
		total += p.FrameLength
	}
	return total
}

// Clone returns a deep copy of the query.
func (q *Query) Clone() *Query {
	c := &Query{
		FramePhonemes: make([]FramePhoneme, len(q.FramePhonemes)),
		FrameRate:     q.FrameRate,
		F0:            make([]float64, len(q.F0)),
		Volume:        make([]float64, len(q.Volume)),
	}
	copy(c.FramePhonemes, q.FramePhonemes)
	copy(c.F0, q.F0)
	copy(c.Volume, q.Volume)
	return c
}

// Note is a note in the engine's wire form. A nil Key marks a rest.
type Note struct {
	ID          string `json:"id,omitempty"`
	Key         *int   `json:"key"`
	FrameLength int    `json:"frame_length"`
	Lyric       string `json:"lyric"`
}

// Client is the synthesis engine API. All four operations take and return
// plain values and may fail with an *EngineError.
//
// Thread Safety: implementations must be safe for concurrent use.
type Client interface {
	// FetchFrameAudioQuery asks the engine to build a frame audio query
	// for the given notes at the given frame rate.
	FetchFrameAudioQuery(ctx context.Context, engineID string, styleID int, frameRate float64, notes []Note) (*Query, error)

	// FetchSingFrameF0 asks the engine for a fundamental-frequency curve
	// matching the query's frame layout.
	FetchSingFrameF0(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error)

	// FetchSingFrameVolume asks the engine for a volume envelope matching
	// the query's frame layout.
	FetchSingFrameVolume(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error)

	// FrameSynthesis renders the query to an encoded audio blob.
	FrameSynthesis(ctx context.Context, engineID string, styleID int, query *Query) ([]byte, error)
}
