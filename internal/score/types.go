// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package score holds the read-only score snapshot consumed by a render:
// tracks, notes, the tempo map, and the per-track user edits. A Snapshot is
// value data; the renderer never mutates it.
package score

import (
	"errors"
	"fmt"
	"sort"
)

// NoPitchEdit marks an editor frame that carries no user pitch override.
const NoPitchEdit = -1.0

// Sentinel errors for snapshot validation.
var (
	// ErrInvalidTPQN is returned when ticks-per-quarter-note is not positive.
	ErrInvalidTPQN = errors.New("tpqn must be positive")

	// ErrEmptyTempoMap is returned when a snapshot carries no tempo entries.
	ErrEmptyTempoMap = errors.New("tempo map must contain at least one tempo")

	// ErrTempoMapStart is returned when the first tempo is not at tick zero.
	ErrTempoMapStart = errors.New("tempo map must start at tick 0")

	// ErrUnsortedTempoMap is returned when tempo entries are out of order.
	ErrUnsortedTempoMap = errors.New("tempo map entries must be sorted by position")

	// ErrInvalidBPM is returned when a tempo entry has a non-positive BPM.
	ErrInvalidBPM = errors.New("tempo bpm must be positive")

	// ErrUnsortedNotes is returned when a track's notes are out of order.
	ErrUnsortedNotes = errors.New("track notes must be sorted by position")

	// ErrInvalidNote is returned when a note has a non-positive duration.
	ErrInvalidNote = errors.New("note duration must be positive")

	// ErrInvalidFrameRate is returned when a frame rate is not positive.
	ErrInvalidFrameRate = errors.New("frame rate must be positive")
)

// Note is a single score note. Position and Duration are in ticks.
type Note struct {
	ID         string  `json:"id" yaml:"id"`
	Position   int64   `json:"position" yaml:"position"`
	Duration   int64   `json:"duration" yaml:"duration"`
	NoteNumber int     `json:"note_number" yaml:"note_number"`
	Lyric      string  `json:"lyric" yaml:"lyric"`
}

// End returns the note's end position in ticks.
func (n Note) End() int64 {
	return n.Position + n.Duration
}

// Singer identifies the voice used for a track.
type Singer struct {
	EngineID string `json:"engine_id" yaml:"engine_id"`
	StyleID  int    `json:"style_id" yaml:"style_id"`
}

// PhonemeTimingEdit is a user-authored offset, in seconds, applied to the
// start of one phoneme of one note during the timing-adjust stage.
type PhonemeTimingEdit struct {
	// PhonemeIndex is the index of the phoneme within the note's phoneme run.
	PhonemeIndex int `json:"phoneme_index" yaml:"phoneme_index"`

	// OffsetSeconds moves the phoneme start; positive is later.
	OffsetSeconds float64 `json:"offset_seconds" yaml:"offset_seconds"`
}

// Track is one voice line of the score together with its user adjustments.
type Track struct {
	// ID uniquely identifies the track within the snapshot.
	ID string `json:"id" yaml:"id"`

	// Singer is the voice used for rendering. A nil singer means the track
	// is extracted into phrases for display but produces no pipeline tasks.
	Singer *Singer `json:"singer,omitempty" yaml:"singer,omitempty"`

	// Notes, sorted by position.
	Notes []Note `json:"notes" yaml:"notes"`

	// KeyRangeAdjustment transposes the track in semitones before the
	// engine call; the rendered pitch is shifted back afterwards.
	KeyRangeAdjustment int `json:"key_range_adjustment" yaml:"key_range_adjustment"`

	// VolumeRangeAdjustment is a gain in decibels applied to the rendered
	// volume envelope.
	VolumeRangeAdjustment float64 `json:"volume_range_adjustment" yaml:"volume_range_adjustment"`

	// PitchEdits is a dense frame-indexed vector at the editor frame rate.
	// Entries equal to NoPitchEdit carry no override.
	PitchEdits []float64 `json:"pitch_edits,omitempty" yaml:"pitch_edits,omitempty"`

	// PhonemeTimingEdits maps note id to that note's timing edits.
	PhonemeTimingEdits map[string][]PhonemeTimingEdit `json:"phoneme_timing_edits,omitempty" yaml:"phoneme_timing_edits,omitempty"`
}

// Snapshot is the immutable score input of one render call.
type Snapshot struct {
	// TPQN is the score's ticks-per-quarter-note.
	TPQN int `json:"tpqn" yaml:"tpqn"`

	// Tempos is the tempo map, sorted by position, starting at tick 0.
	Tempos []Tempo `json:"tempos" yaml:"tempos"`

	// Tracks in a stable order. Artifact keys never depend on this order.
	Tracks []Track `json:"tracks" yaml:"tracks"`

	// OverlappingNoteIDs lists, per track id, the note ids excluded from
	// phrase extraction because they overlap a neighbour.
	OverlappingNoteIDs map[string]map[string]struct{} `json:"-" yaml:"-"`

	// EngineFrameRates maps engine id to that engine's frame rate.
	EngineFrameRates map[string]float64 `json:"engine_frame_rates" yaml:"engine_frame_rates"`

	// EditorFrameRate is the frame rate pitch edits are sampled at.
	EditorFrameRate float64 `json:"editor_frame_rate" yaml:"editor_frame_rate"`
}

// Track returns the track with the given id.
func (s *Snapshot) Track(id string) (*Track, bool) {
	for i := range s.Tracks {
		if s.Tracks[i].ID == id {
			return &s.Tracks[i], true
		}
	}
	return nil, false
}

// Validate checks the structural invariants the pipeline relies on.
func (s *Snapshot) Validate() error {
	if s.TPQN <= 0 {
		return ErrInvalidTPQN
	}
	if len(s.Tempos) == 0 {
		return ErrEmptyTempoMap
	}
	if s.Tempos[0].Position != 0 {
		return ErrTempoMapStart
	}
	for i, t := range s.Tempos {
		if t.BPM <= 0 {
			return fmt.Errorf("tempo %d: %w", i, ErrInvalidBPM)
		}
		if i > 0 && t.Position <= s.Tempos[i-1].Position {
			return ErrUnsortedTempoMap
		}
	}
	if s.EditorFrameRate <= 0 {
		return fmt.Errorf("editor: %w", ErrInvalidFrameRate)
	}
	for id, rate := range s.EngineFrameRates {
		if rate <= 0 {
			return fmt.Errorf("engine %q: %w", id, ErrInvalidFrameRate)
		}
	}
	for _, tr := range s.Tracks {
		for i, n := range tr.Notes {
			if n.Duration <= 0 {
				return fmt.Errorf("track %q note %q: %w", tr.ID, n.ID, ErrInvalidNote)
			}
			if i > 0 && n.Position < tr.Notes[i-1].Position {
				return fmt.Errorf("track %q: %w", tr.ID, ErrUnsortedNotes)
			}
		}
	}
	return nil
}

// DetectOverlappingNoteIDs walks each track's notes and returns, per track,
// the ids of notes that start before an earlier note has ended. The earlier
// note survives; the intruder is excluded from phrase extraction.
func DetectOverlappingNoteIDs(tracks []Track) map[string]map[string]struct{} {
	result := make(map[string]map[string]struct{}, len(tracks))
	for _, tr := range tracks {
		overlaps := make(map[string]struct{})
		notes := make([]Note, len(tr.Notes))
		copy(notes, tr.Notes)
		sort.SliceStable(notes, func(i, j int) bool { return notes[i].Position < notes[j].Position })

		var maxEnd int64
		for i, n := range notes {
			if i > 0 && n.Position < maxEnd {
				overlaps[n.ID] = struct{}{}
				continue
			}
			if n.End() > maxEnd {
				maxEnd = n.End()
			}
		}
		result[tr.ID] = overlaps
	}
	return result
}
