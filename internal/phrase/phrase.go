// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phrase extracts renderable phrases from a score snapshot and
// derives the content-addressed keys the cache tiers are indexed by.
package phrase

import (
	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/score"
)

// Phrase is a contiguous run of one track's non-overlapping notes, rendered
// as a unit. The extractor fills the score-derived fields; the pipeline
// fills the artifact slots, each written at most once.
type Phrase struct {
	// Key is the content hash over (first-rest, notes, start-time, track-id).
	Key Key

	// Singer used to render the phrase; nil when the track has no singer.
	Singer *score.Singer

	// FirstRestDuration is the leading rest in ticks.
	FirstRestDuration int64

	// Notes is the phrase's contiguous note run.
	Notes []score.Note

	// StartTicks and EndTicks span the first note start to last note end.
	StartTicks int64
	EndTicks   int64

	// StartTime is the phrase start in seconds, leading rest included.
	StartTime float64

	// TrackID names the owning track.
	TrackID string

	// Artifact slots, populated monotonically during pipeline execution.

	QueryKey                         QueryKey
	Query                            *engine.Query
	PhonemeTimingEditingAppliedQuery *engine.Query
	PitchKey                         PitchKey
	Pitch                            []float64
	VolumeKey                        VolumeKey
	Volume                           []float64
	VoiceKey                         VoiceKey
	Voice                            []byte

	// ErrorOccurredDuringRendering is set when any stage of this phrase
	// failed or was skipped.
	ErrorOccurredDuringRendering bool
}

// Complete reports whether all four artifacts are present.
func (p *Phrase) Complete() bool {
	return p.Query != nil && p.Pitch != nil && p.Volume != nil && p.Voice != nil
}
