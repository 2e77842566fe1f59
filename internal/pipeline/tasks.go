// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"

	"github.com/cantoria/cantoria/internal/dag"
	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/phrase"
)

// PhraseTask is implemented by the per-phrase task kinds.
type PhraseTask interface {
	dag.Task
	PhraseKey() phrase.Key
}

// TrackTask is implemented by tasks scoped to a whole track.
type TrackTask interface {
	dag.Task
	TrackID() string
}

// =============================================================================
// Query generation
// =============================================================================

// QueryGenTask asks the engine for a phrase's frame audio query.
type QueryGenTask struct {
	dag.BaseTask
	rc  *Context
	phr *phrase.Phrase
	key phrase.QueryKey
}

// PhraseKey implements PhraseTask.
func (t *QueryGenTask) PhraseKey() phrase.Key { return t.phr.Key }

// TrackID implements TrackTask.
func (t *QueryGenTask) TrackID() string { return t.phr.TrackID }

// Cacheable implements dag.Task.
func (t *QueryGenTask) Cacheable() bool { return true }

// computeKey derives (and memoizes) the query key and its inputs.
func (t *QueryGenTask) computeKey() (phrase.QueryKey, []engine.Note, float64, error) {
	rate, err := t.rc.frameRateFor(t.phr)
	if err != nil {
		return "", nil, 0, err
	}
	track, err := t.rc.trackFor(t.phr)
	if err != nil {
		return "", nil, 0, err
	}
	notes := NotesForEngine(t.rc.Snapshot, t.phr, rate, t.rc.Options.LastRestDurationSeconds)
	if t.key == "" {
		key, err := phrase.ComputeQueryKey(t.phr.Singer.EngineID, t.rc.Options.SingingTeacherStyleID, rate, notes, track.KeyRangeAdjustment)
		if err != nil {
			return "", nil, 0, err
		}
		t.key = key
	}
	return t.key, notes, rate, nil
}

// IsCached implements dag.Task.
func (t *QueryGenTask) IsCached(ctx context.Context) (bool, error) {
	key, _, _, err := t.computeKey()
	if err != nil {
		return false, err
	}
	return t.rc.Caches.Queries.Has(key), nil
}

// Run implements dag.Task.
func (t *QueryGenTask) Run(ctx context.Context) error {
	key, notes, rate, err := t.computeKey()
	if err != nil {
		return t.fail(err)
	}
	track, err := t.rc.trackFor(t.phr)
	if err != nil {
		return t.fail(err)
	}

	t.phr.QueryKey = key
	query, err := t.rc.Caches.Queries.GetOrCompute(key, func() (*engine.Query, error) {
		shifted := ShiftNoteKeys(notes, -track.KeyRangeAdjustment)
		q, err := t.rc.Engine.FetchFrameAudioQuery(ctx, t.phr.Singer.EngineID, t.rc.Options.SingingTeacherStyleID, rate, shifted)
		if err != nil {
			return nil, err
		}
		if len(q.FramePhonemes) == 0 {
			return nil, ErrEmptyPhonemes
		}
		if len(q.F0) != q.FrameTotal() || len(q.Volume) != q.FrameTotal() {
			return nil, ErrFrameCountMismatch
		}
		scaleF0(q.F0, semitoneRatio(float64(track.KeyRangeAdjustment)))
		return q, nil
	})
	if err != nil {
		return t.fail(err)
	}
	t.phr.Query = query.Clone()
	return nil
}

func (t *QueryGenTask) fail(err error) error {
	t.phr.ErrorOccurredDuringRendering = true
	return err
}

// =============================================================================
// Phoneme timing adjustment
// =============================================================================

// PhonemeTimingAdjustTask applies the user's timing edits to every
// successful query of one track, as a batch. It runs whenever at least one
// of the track's queries succeeded and is never cached: its output lives
// only in the phrase slots and is an input to the pitch keys.
type PhonemeTimingAdjustTask struct {
	dag.BaseTask
	rc      *Context
	trackID string
	phrases []*phrase.Phrase
}

// TrackID implements TrackTask.
func (t *PhonemeTimingAdjustTask) TrackID() string { return t.trackID }

// Cacheable implements dag.Task.
func (t *PhonemeTimingAdjustTask) Cacheable() bool { return false }

// IsCached implements dag.Task.
func (t *PhonemeTimingAdjustTask) IsCached(ctx context.Context) (bool, error) {
	return false, nil
}

// Run implements dag.Task.
func (t *PhonemeTimingAdjustTask) Run(ctx context.Context) error {
	track, ok := t.rc.Snapshot.Track(t.trackID)
	if !ok {
		return ErrMissingArtifact
	}
	entries := make([]timingEntry, 0, len(t.phrases))
	for _, p := range t.phrases {
		if p.Query == nil {
			continue
		}
		entries = append(entries, timingEntry{startTime: p.StartTime, phr: p})
	}
	adjustTrackTiming(track, entries)
	return nil
}

// =============================================================================
// Pitch generation
// =============================================================================

// PitchGenTask asks the engine for a phrase's f0 curve, based on the
// timing-adjusted query.
type PitchGenTask struct {
	dag.BaseTask
	rc  *Context
	phr *phrase.Phrase
	key phrase.PitchKey
}

// PhraseKey implements PhraseTask.
func (t *PitchGenTask) PhraseKey() phrase.Key { return t.phr.Key }

// TrackID implements TrackTask.
func (t *PitchGenTask) TrackID() string { return t.phr.TrackID }

// Cacheable implements dag.Task.
func (t *PitchGenTask) Cacheable() bool { return true }

func (t *PitchGenTask) computeKey() (phrase.PitchKey, []engine.Note, *engine.Query, error) {
	adjusted := t.phr.PhonemeTimingEditingAppliedQuery
	if adjusted == nil {
		return "", nil, nil, ErrMissingArtifact
	}
	rate, err := t.rc.frameRateFor(t.phr)
	if err != nil {
		return "", nil, nil, err
	}
	track, err := t.rc.trackFor(t.phr)
	if err != nil {
		return "", nil, nil, err
	}
	notes := NotesForEngine(t.rc.Snapshot, t.phr, rate, t.rc.Options.LastRestDurationSeconds)
	if t.key == "" {
		key, err := phrase.ComputePitchKey(t.phr.Singer.EngineID, t.rc.Options.SingingTeacherStyleID, adjusted, notes, track.KeyRangeAdjustment)
		if err != nil {
			return "", nil, nil, err
		}
		t.key = key
	}
	return t.key, notes, adjusted, nil
}

// IsCached implements dag.Task.
func (t *PitchGenTask) IsCached(ctx context.Context) (bool, error) {
	key, _, _, err := t.computeKey()
	if err != nil {
		return false, err
	}
	return t.rc.Caches.Pitches.Has(key), nil
}

// Run implements dag.Task.
func (t *PitchGenTask) Run(ctx context.Context) error {
	key, notes, adjusted, err := t.computeKey()
	if err != nil {
		return t.fail(err)
	}
	track, err := t.rc.trackFor(t.phr)
	if err != nil {
		return t.fail(err)
	}

	t.phr.PitchKey = key
	pitch, err := t.rc.Caches.Pitches.GetOrCompute(key, func() ([]float64, error) {
		shifted := ShiftNoteKeys(notes, -track.KeyRangeAdjustment)
		f0, err := t.rc.Engine.FetchSingFrameF0(ctx, t.phr.Singer.EngineID, t.rc.Options.SingingTeacherStyleID, shifted, adjusted)
		if err != nil {
			return nil, err
		}
		if len(f0) != adjusted.FrameTotal() {
			return nil, ErrFrameCountMismatch
		}
		scaleF0(f0, semitoneRatio(float64(track.KeyRangeAdjustment)))
		return f0, nil
	})
	if err != nil {
		return t.fail(err)
	}
	t.phr.Pitch = append([]float64(nil), pitch...)
	return nil
}

func (t *PitchGenTask) fail(err error) error {
	t.phr.ErrorOccurredDuringRendering = true
	return err
}

// =============================================================================
// Volume generation
// =============================================================================

// VolumeGenTask asks the engine for a phrase's volume envelope, applies
// the track gain, and mutes the trailing pau.
type VolumeGenTask struct {
	dag.BaseTask
	rc  *Context
	phr *phrase.Phrase
	key phrase.VolumeKey
}

// PhraseKey implements PhraseTask.
func (t *VolumeGenTask) PhraseKey() phrase.Key { return t.phr.Key }

// TrackID implements TrackTask.
func (t *VolumeGenTask) TrackID() string { return t.phr.TrackID }

// Cacheable implements dag.Task.
func (t *VolumeGenTask) Cacheable() bool { return true }

func (t *VolumeGenTask) computeKey() (phrase.VolumeKey, []engine.Note, []float64, error) {
	if t.phr.Query == nil || t.phr.Pitch == nil {
		return "", nil, nil, ErrMissingArtifact
	}
	rate, err := t.rc.frameRateFor(t.phr)
	if err != nil {
		return "", nil, nil, err
	}
	track, err := t.rc.trackFor(t.phr)
	if err != nil {
		return "", nil, nil, err
	}
	notes := NotesForEngine(t.rc.Snapshot, t.phr, rate, t.rc.Options.LastRestDurationSeconds)
	sampled := SampledPitchEdits(t.phr.Query.FrameTotal(), rate, track.PitchEdits, t.phr.StartTime, t.rc.Snapshot.EditorFrameRate)
	if t.key == "" {
		key, err := phrase.ComputeVolumeKey(
			t.phr.Singer.EngineID, t.rc.Options.SingingTeacherStyleID,
			t.phr.Query, t.phr.Pitch, sampled, notes,
			track.KeyRangeAdjustment, track.VolumeRangeAdjustment,
			t.rc.Options.FadeOutDurationSeconds,
		)
		if err != nil {
			return "", nil, nil, err
		}
		t.key = key
	}
	return t.key, notes, sampled, nil
}

// IsCached implements dag.Task.
func (t *VolumeGenTask) IsCached(ctx context.Context) (bool, error) {
	key, _, _, err := t.computeKey()
	if err != nil {
		return false, err
	}
	return t.rc.Caches.Volumes.Has(key), nil
}

// Run implements dag.Task.
func (t *VolumeGenTask) Run(ctx context.Context) error {
	key, notes, sampled, err := t.computeKey()
	if err != nil {
		return t.fail(err)
	}
	track, err := t.rc.trackFor(t.phr)
	if err != nil {
		return t.fail(err)
	}

	t.phr.VolumeKey = key
	volume, err := t.rc.Caches.Volumes.GetOrCompute(key, func() ([]float64, error) {
		working := t.phr.Query.Clone()
		copy(working.F0, t.phr.Pitch)
		applySampledPitchEdits(working.F0, sampled)
		// The engine expects the un-transposed register.
		scaleF0(working.F0, semitoneRatio(float64(-track.KeyRangeAdjustment)))
		shifted := ShiftNoteKeys(notes, -track.KeyRangeAdjustment)

		v, err := t.rc.Engine.FetchSingFrameVolume(ctx, t.phr.Singer.EngineID, t.rc.Options.SingingTeacherStyleID, shifted, working)
		if err != nil {
			return nil, err
		}
		if len(v) != working.FrameTotal() {
			return nil, ErrFrameCountMismatch
		}
		gain := decibelRatio(track.VolumeRangeAdjustment)
		for i := range v {
			v[i] *= gain
		}
		if err := MuteLastPau(working, v, t.rc.Options.FadeOutDurationSeconds); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return t.fail(err)
	}
	t.phr.Volume = append([]float64(nil), volume...)
	return nil
}

func (t *VolumeGenTask) fail(err error) error {
	t.phr.ErrorOccurredDuringRendering = true
	return err
}

// =============================================================================
// Voice synthesis
// =============================================================================

// VoiceSynthTask renders the final audio blob for a phrase. Synthesis uses
// the phrase singer's own style; the analysis stages use the singing
// teacher style.
type VoiceSynthTask struct {
	dag.BaseTask
	rc  *Context
	phr *phrase.Phrase
	key phrase.VoiceKey
}

// PhraseKey implements PhraseTask.
func (t *VoiceSynthTask) PhraseKey() phrase.Key { return t.phr.Key }

// TrackID implements TrackTask.
func (t *VoiceSynthTask) TrackID() string { return t.phr.TrackID }

// Cacheable implements dag.Task.
func (t *VoiceSynthTask) Cacheable() bool { return true }

func (t *VoiceSynthTask) computeKey() (phrase.VoiceKey, []float64, error) {
	if t.phr.Query == nil || t.phr.Pitch == nil || t.phr.Volume == nil {
		return "", nil, ErrMissingArtifact
	}
	rate, err := t.rc.frameRateFor(t.phr)
	if err != nil {
		return "", nil, err
	}
	track, err := t.rc.trackFor(t.phr)
	if err != nil {
		return "", nil, err
	}
	sampled := SampledPitchEdits(t.phr.Query.FrameTotal(), rate, track.PitchEdits, t.phr.StartTime, t.rc.Snapshot.EditorFrameRate)
	if t.key == "" {
		key, err := phrase.ComputeVoiceKey(
			t.phr.Singer.EngineID, t.phr.Singer.StyleID,
			t.phr.Query, t.phr.Pitch, sampled, t.phr.Volume,
		)
		if err != nil {
			return "", nil, err
		}
		t.key = key
	}
	return t.key, sampled, nil
}

// IsCached implements dag.Task.
func (t *VoiceSynthTask) IsCached(ctx context.Context) (bool, error) {
	key, _, err := t.computeKey()
	if err != nil {
		return false, err
	}
	return t.rc.Caches.Voices.Has(key), nil
}

// Run implements dag.Task.
func (t *VoiceSynthTask) Run(ctx context.Context) error {
	key, sampled, err := t.computeKey()
	if err != nil {
		return t.fail(err)
	}

	t.phr.VoiceKey = key
	voice, err := t.rc.Caches.Voices.GetOrCompute(key, func() ([]byte, error) {
		working := t.phr.Query.Clone()
		copy(working.F0, t.phr.Pitch)
		applySampledPitchEdits(working.F0, sampled)
		copy(working.Volume, t.phr.Volume)
		return t.rc.Engine.FrameSynthesis(ctx, t.phr.Singer.EngineID, t.phr.Singer.StyleID, working)
	})
	if err != nil {
		return t.fail(err)
	}
	t.phr.Voice = append([]byte(nil), voice...)
	return nil
}

func (t *VoiceSynthTask) fail(err error) error {
	t.phr.ErrorOccurredDuringRendering = true
	return err
}

// StartTime returns the phrase start in seconds, for playhead selectors.
func (t *QueryGenTask) StartTime() float64 { return t.phr.StartTime }

// StartTime returns the phrase start in seconds, for playhead selectors.
func (t *PitchGenTask) StartTime() float64 { return t.phr.StartTime }

// StartTime returns the phrase start in seconds, for playhead selectors.
func (t *VolumeGenTask) StartTime() float64 { return t.phr.StartTime }

// StartTime returns the phrase start in seconds, for playhead selectors.
func (t *VoiceSynthTask) StartTime() float64 { return t.phr.StartTime }

// shortKey abbreviates a phrase key for task names and logs.
func shortKey(k phrase.Key) string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}

func taskName(kind dag.Kind, suffix string) string {
	return fmt.Sprintf("%s:%s", kind, suffix)
}
