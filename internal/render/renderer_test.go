// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/events"
	"github.com/cantoria/cantoria/internal/phrase"
	"github.com/cantoria/cantoria/internal/pipeline"
	"github.com/cantoria/cantoria/internal/score"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Pipeline: pipeline.Options{
			SingingTeacherStyleID:       6000,
			FirstRestMinDurationSeconds: 0.12,
			LastRestDurationSeconds:     0.5,
			FadeOutDurationSeconds:      0.15,
		},
		PrioritizeCachedTasks: true,
		Logger:                quietLogger(),
	}
}

// contiguousNotes builds n glued quarter notes starting one quarter in.
func contiguousNotes(n int) []score.Note {
	keys := []int{60, 62, 64, 65, 67, 69}
	notes := make([]score.Note, n)
	pos := int64(480)
	for i := 0; i < n; i++ {
		notes[i] = score.Note{
			ID:         string(rune('a' + i)),
			Position:   pos,
			Duration:   480,
			NoteNumber: keys[i%len(keys)],
			Lyric:      "ら",
		}
		pos += 480
	}
	return notes
}

func snapshotWithTracks(tracks ...score.Track) *score.Snapshot {
	snap := &score.Snapshot{
		TPQN:               480,
		Tempos:             []score.Tempo{{Position: 0, BPM: 120}},
		Tracks:             tracks,
		OverlappingNoteIDs: map[string]map[string]struct{}{},
		EngineFrameRates:   map[string]float64{"default": 93.75},
		EditorFrameRate:    93.75,
	}
	for _, tr := range tracks {
		snap.OverlappingNoteIDs[tr.ID] = map[string]struct{}{}
	}
	return snap
}

func singerTrack(id string, notes []score.Note) score.Track {
	return score.Track{
		ID:     id,
		Singer: &score.Singer{EngineID: "default", StyleID: 42},
		Notes:  notes,
	}
}

// eventRecorder captures the render event stream.
type eventRecorder struct {
	events []events.Event
}

func (r *eventRecorder) listener() events.Listener {
	return func(ev *events.Event) {
		r.events = append(r.events, *ev)
	}
}

func (r *eventRecorder) types() []events.Type {
	types := make([]events.Type, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func (r *eventRecorder) first(t events.Type) *events.Event {
	for i := range r.events {
		if r.events[i].Type == t {
			return &r.events[i]
		}
	}
	return nil
}

func (r *eventRecorder) count(t events.Type) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestRenderer(t *testing.T, m *engine.MockClient) (*Renderer, *eventRecorder) {
	t.Helper()
	r := New(m, testOptions())
	rec := &eventRecorder{}
	require.NoError(t, r.Events().Subscribe("recorder", rec.listener()))
	return r, rec
}

// S1: a track without a singer yields phrases but no tasks.
func TestRender_NoSinger(t *testing.T) {
	m := engine.NewMockClient()
	r, rec := newTestRenderer(t, m)

	snap := snapshotWithTracks(score.Track{ID: "T1", Notes: contiguousNotes(4)})
	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, OutcomeComplete, result.Outcome)
	require.Len(t, result.Phrases, 1)
	for _, p := range result.Phrases {
		assert.Nil(t, p.Query)
		assert.Nil(t, p.Pitch)
		assert.Nil(t, p.Volume)
		assert.Nil(t, p.Voice)
		assert.False(t, p.ErrorOccurredDuringRendering)
	}
	assert.Zero(t, m.CallTotal())
	assert.Equal(t, 1, rec.count(events.TypeRenderingStarted))
	assert.Equal(t, 1, rec.count(events.TypeRenderingCompleted))
}

// S2: single phrase, cold cache: the full event sequence in order, one
// entry per cache tier afterwards.
func TestRender_SinglePhraseColdCache(t *testing.T) {
	m := engine.NewMockClient()
	r, rec := newTestRenderer(t, m)

	snap := snapshotWithTracks(singerTrack("T1", contiguousNotes(4)))
	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)

	assert.Equal(t, []events.Type{
		events.TypeRenderingStarted,
		events.TypeCacheLoadFinished,
		events.TypeTrackQueryGenerationStarted,
		events.TypeTrackQueryGenerationFinished,
		events.TypePitchGenerationStarted,
		events.TypePitchGenerationFinished,
		events.TypeVolumeGenerationStarted,
		events.TypeVolumeGenerationFinished,
		events.TypeVoiceSynthesisStarted,
		events.TypeVoiceSynthesisFinished,
		events.TypeRenderingCompleted,
	}, rec.types())

	// Cold cache: the cache-load phase is empty.
	loaded := rec.first(events.TypeCacheLoadFinished).Data.(*events.CacheLoadFinishedData)
	assert.Empty(t, loaded.PhraseKeys)

	caches := r.Caches()
	assert.Equal(t, 1, caches.Queries.Len())
	assert.Equal(t, 1, caches.Pitches.Len())
	assert.Equal(t, 1, caches.Volumes.Len())
	assert.Equal(t, 1, caches.Voices.Len())

	require.Len(t, result.Phrases, 1)
	for _, p := range result.Phrases {
		assert.True(t, p.Complete())
		assert.NotEmpty(t, p.QueryKey)
		assert.NotEmpty(t, p.PitchKey)
		assert.NotEmpty(t, p.VolumeKey)
		assert.NotEmpty(t, p.VoiceKey)
		assert.False(t, p.ErrorOccurredDuringRendering)
		assert.Equal(t, p.Query.FrameTotal(), len(p.Pitch))
		assert.Equal(t, p.Query.FrameTotal(), len(p.Volume))
		assert.NotEmpty(t, p.Voice)
	}
	assert.Equal(t, 4, m.CallTotal())
}

// S3: an immediate re-render is served entirely from cache.
func TestRender_WarmCacheIdempotent(t *testing.T) {
	m := engine.NewMockClient()
	r, _ := newTestRenderer(t, m)

	snap := snapshotWithTracks(singerTrack("T1", contiguousNotes(4)))
	first, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
	m.ResetCalls()

	rec := &eventRecorder{}
	require.NoError(t, r.Events().Subscribe("recorder2", rec.listener()))

	second, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, second.Outcome)

	// Zero engine calls on the warm run.
	assert.Zero(t, m.CallTotal())

	// Exactly one cacheLoadFinished, listing every phrase key.
	assert.Equal(t, 1, rec.count(events.TypeCacheLoadFinished))
	loaded := rec.first(events.TypeCacheLoadFinished).Data.(*events.CacheLoadFinishedData)
	require.Len(t, loaded.PhraseKeys, 1)

	// Equal phrase maps.
	require.Equal(t, len(first.Phrases), len(second.Phrases))
	for key, p1 := range first.Phrases {
		p2, ok := second.Phrases[key]
		require.True(t, ok)
		assert.Contains(t, loaded.PhraseKeys, key)
		assert.Equal(t, p1.QueryKey, p2.QueryKey)
		assert.Equal(t, p1.PitchKey, p2.PitchKey)
		assert.Equal(t, p1.VolumeKey, p2.VolumeKey)
		assert.Equal(t, p1.VoiceKey, p2.VoiceKey)
		assert.Equal(t, p1.Pitch, p2.Pitch)
		assert.Equal(t, p1.Volume, p2.Volume)
		assert.Equal(t, p1.Voice, p2.Voice)
	}

	// The caches did not grow.
	assert.Equal(t, 1, r.Caches().Queries.Len())
	assert.Equal(t, 1, r.Caches().Voices.Len())
}

// S4: gluing a fifth note onto the phrase produces one new phrase key;
// old artifacts stay cached but unused, and exactly one new artifact per
// tier is generated.
func TestRender_PhraseAdded(t *testing.T) {
	m := engine.NewMockClient()
	r, _ := newTestRenderer(t, m)

	four := snapshotWithTracks(singerTrack("T1", contiguousNotes(4)))
	first, err := r.Render(context.Background(), four)
	require.NoError(t, err)
	var oldKey phrase.Key
	for key := range first.Phrases {
		oldKey = key
	}
	m.ResetCalls()

	five := snapshotWithTracks(singerTrack("T1", contiguousNotes(5)))
	second, err := r.Render(context.Background(), five)
	require.NoError(t, err)

	require.Len(t, second.Phrases, 1)
	for key := range second.Phrases {
		assert.NotEqual(t, oldKey, key)
	}

	// One fresh call per stage; old entries still cached.
	assert.Equal(t, 4, m.CallTotal())
	assert.Equal(t, 2, r.Caches().Queries.Len())
	assert.Equal(t, 2, r.Caches().Pitches.Len())
	assert.Equal(t, 2, r.Caches().Volumes.Len())
	assert.Equal(t, 2, r.Caches().Voices.Len())
}

// S5: a failing query isolates its phrase; the sibling completes and the
// timing-adjust task still runs.
func TestRender_SingleQueryFailure(t *testing.T) {
	// Two phrases separated by a gap; the first holds note "a".
	notes := contiguousNotes(2)
	notes = append(notes, score.Note{ID: "x", Position: 2400, Duration: 480, NoteNumber: 67, Lyric: "ら"})
	snap := snapshotWithTracks(singerTrack("T1", notes))

	fallback := engine.NewMockClient()
	m := engine.NewMockClient()
	m.FrameAudioQueryFn = func(ctx context.Context, engineID string, styleID int, frameRate float64, ns []engine.Note) (*engine.Query, error) {
		for _, n := range ns {
			if n.ID == "a" {
				return nil, errors.New("engine rejected phrase")
			}
		}
		return fallback.FetchFrameAudioQuery(ctx, engineID, styleID, frameRate, ns)
	}

	r, rec := newTestRenderer(t, m)
	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	require.Len(t, result.Phrases, 2)

	var failed, succeeded *phrase.Phrase
	for _, p := range result.Phrases {
		if p.Notes[0].ID == "a" {
			failed = p
		} else {
			succeeded = p
		}
	}
	require.NotNil(t, failed)
	require.NotNil(t, succeeded)

	assert.True(t, failed.ErrorOccurredDuringRendering)
	assert.Nil(t, failed.Query)
	assert.Nil(t, failed.Voice)

	assert.False(t, succeeded.ErrorOccurredDuringRendering)
	assert.True(t, succeeded.Complete())
	// The timing-adjust pass ran for the surviving phrase.
	assert.NotNil(t, succeeded.PhonemeTimingEditingAppliedQuery)

	// The aggregate query event reports one success and one error.
	finished := rec.first(events.TypeTrackQueryGenerationFinished)
	require.NotNil(t, finished)
	data := finished.Data.(*events.TrackQueryGenerationFinishedData)
	require.Len(t, data.Results, 2)
	ok, bad := 0, 0
	for _, res := range data.Results {
		if res.Success() {
			ok++
		} else {
			bad++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, bad)

	// Only the surviving phrase reached the later stages.
	assert.Equal(t, 1, rec.count(events.TypePitchGenerationStarted))
	assert.Equal(t, 1, rec.count(events.TypeVoiceSynthesisFinished))
}

// S6: interruption after voice synthesis finishes keeps every artifact
// computed so far and returns an interrupted result.
func TestRender_Interruption(t *testing.T) {
	m := engine.NewMockClient()
	r, rec := newTestRenderer(t, m)

	require.NoError(t, r.Events().Subscribe("interrupter", func(ev *events.Event) {
		if ev.Type == events.TypeVoiceSynthesisStarted {
			require.NoError(t, r.RequestInterruption())
		}
	}))

	snap := snapshotWithTracks(singerTrack("T1", contiguousNotes(4)))
	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, OutcomeInterrupted, result.Outcome)
	assert.Nil(t, result.Phrases)

	// The in-flight voice task completed and was cached.
	assert.Equal(t, 1, rec.count(events.TypeVoiceSynthesisFinished))
	assert.Equal(t, 1, r.Caches().Queries.Len())
	assert.Equal(t, 1, r.Caches().Pitches.Len())
	assert.Equal(t, 1, r.Caches().Volumes.Len())
	assert.Equal(t, 1, r.Caches().Voices.Len())

	// No completion event on an interrupted run.
	assert.Zero(t, rec.count(events.TypeRenderingCompleted))

	// A subsequent render works normally and is fully cached. Cached stage
	// tasks still emit their start events, so the interrupter goes first.
	require.NoError(t, r.Events().Unsubscribe("interrupter"))
	m.ResetCalls()
	again, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, again.Outcome)
	assert.Zero(t, m.CallTotal())
}

// Usage errors: render-while-rendering and interrupt-while-idle.
func TestRender_UsageErrors(t *testing.T) {
	m := engine.NewMockClient()
	r, _ := newTestRenderer(t, m)

	assert.ErrorIs(t, r.RequestInterruption(), ErrNotRendering)

	snap := snapshotWithTracks(singerTrack("T1", contiguousNotes(2)))
	require.NoError(t, r.Events().Subscribe("reentrant", func(ev *events.Event) {
		if ev.Type == events.TypeRenderingStarted {
			_, err := r.Render(context.Background(), snap)
			assert.ErrorIs(t, err, ErrAlreadyRendering)
		}
	}))

	_, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
}

// Two tracks render independently; each gets its own aggregate query
// events and the per-track event precedes that track's pitch events.
func TestRender_TwoTracks(t *testing.T) {
	m := engine.NewMockClient()
	r, rec := newTestRenderer(t, m)

	trackA := singerTrack("A", contiguousNotes(2))
	trackB := singerTrack("B", contiguousNotes(3))
	snap := snapshotWithTracks(trackA, trackB)

	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	assert.Len(t, result.Phrases, 2)

	assert.Equal(t, 2, rec.count(events.TypeTrackQueryGenerationStarted))
	assert.Equal(t, 2, rec.count(events.TypeTrackQueryGenerationFinished))

	// Per track: the aggregate query event fires before any pitch event.
	for _, trackID := range []string{"A", "B"} {
		queryIdx, pitchIdx := -1, -1
		for i, ev := range rec.events {
			switch data := ev.Data.(type) {
			case *events.TrackQueryGenerationFinishedData:
				if data.TrackID == trackID {
					queryIdx = i
				}
			case *events.PhraseStageStartedData:
				if ev.Type == events.TypePitchGenerationStarted && pitchIdx == -1 {
					if result.Phrases[data.PhraseKey].TrackID == trackID {
						pitchIdx = i
					}
				}
			}
		}
		require.GreaterOrEqual(t, queryIdx, 0)
		require.GreaterOrEqual(t, pitchIdx, 0)
		assert.Less(t, queryIdx, pitchIdx, "track %s", trackID)
	}
}

// Key-range adjustment transposes the engine's notes down and restores
// the rendered pitch.
func TestRender_KeyRangeAdjustment(t *testing.T) {
	m := engine.NewMockClient()
	var engineKeys []int
	fallback := engine.NewMockClient()
	m.FrameAudioQueryFn = func(ctx context.Context, engineID string, styleID int, frameRate float64, ns []engine.Note) (*engine.Query, error) {
		for _, n := range ns {
			if n.Key != nil {
				engineKeys = append(engineKeys, *n.Key)
			}
		}
		return fallback.FetchFrameAudioQuery(ctx, engineID, styleID, frameRate, ns)
	}

	track := singerTrack("T1", contiguousNotes(1))
	track.KeyRangeAdjustment = 12
	snap := snapshotWithTracks(track)

	r, _ := newTestRenderer(t, m)
	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)

	// Note 60 with +12 adjustment reaches the engine as 48.
	require.Equal(t, []int{48}, engineKeys)

	// The query's f0 is shifted back up one octave relative to what the
	// engine produced for key 48.
	for _, p := range result.Phrases {
		require.NotNil(t, p.Query)
		noteFrame := p.Query.FramePhonemes[0].FrameLength + 1
		assert.InDelta(t, 261.63, p.Query.F0[noteFrame], 0.01)
	}
}

// Volume-range adjustment applies the decibel gain to the envelope.
func TestRender_VolumeRangeAdjustment(t *testing.T) {
	m := engine.NewMockClient()
	track := singerTrack("T1", contiguousNotes(1))
	track.VolumeRangeAdjustment = 20 // 10x
	snap := snapshotWithTracks(track)

	r, _ := newTestRenderer(t, m)
	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)

	for _, p := range result.Phrases {
		require.NotNil(t, p.Volume)
		// Mock volume is a flat 0.5; with 20 dB gain the sung frames are 5.
		noteFrame := p.Query.FramePhonemes[0].FrameLength + 1
		assert.InDelta(t, 5.0, p.Volume[noteFrame], 1e-9)
	}
}

// Pitch edits override the generated f0 where present and invalidate the
// voice cache entry.
func TestRender_PitchEditsChangeKeys(t *testing.T) {
	m := engine.NewMockClient()
	r, _ := newTestRenderer(t, m)

	base := snapshotWithTracks(singerTrack("T1", contiguousNotes(2)))
	first, err := r.Render(context.Background(), base)
	require.NoError(t, err)

	edited := snapshotWithTracks(singerTrack("T1", contiguousNotes(2)))
	edits := make([]float64, 400)
	for i := range edits {
		edits[i] = score.NoPitchEdit
	}
	for i := 50; i < 60; i++ {
		edits[i] = 300.0
	}
	edited.Tracks[0].PitchEdits = edits

	second, err := r.Render(context.Background(), edited)
	require.NoError(t, err)

	var p1, p2 *phrase.Phrase
	for _, p := range first.Phrases {
		p1 = p
	}
	for _, p := range second.Phrases {
		p2 = p
	}

	// Same score, so query and pitch keys match; the edit only reaches
	// volume and voice.
	assert.Equal(t, p1.QueryKey, p2.QueryKey)
	assert.Equal(t, p1.PitchKey, p2.PitchKey)
	assert.NotEqual(t, p1.VolumeKey, p2.VolumeKey)
	assert.NotEqual(t, p1.VoiceKey, p2.VoiceKey)
}

// A render driven by the playhead selector runs every phrase to completion.
func TestPlayheadSelector(t *testing.T) {
	m := engine.NewMockClient()

	opts := testOptions()
	opts.PrioritizeCachedTasks = true
	opts.Selector = PlayheadSelector(func() float64 { return 5.0 })
	r := New(m, opts)

	// Two phrases: one near t=0, one near t=5.
	notes := contiguousNotes(1)
	notes = append(notes, score.Note{ID: "late", Position: 4800, Duration: 480, NoteNumber: 67, Lyric: "ら"})
	snap := snapshotWithTracks(singerTrack("T1", notes))

	result, err := r.Render(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)

	// Everything still completes under a custom selector.
	for _, p := range result.Phrases {
		assert.True(t, p.Complete())
	}
}

// Snapshot validation failures surface before any event is emitted.
func TestRender_InvalidSnapshot(t *testing.T) {
	m := engine.NewMockClient()
	r, rec := newTestRenderer(t, m)

	snap := snapshotWithTracks(singerTrack("T1", contiguousNotes(1)))
	snap.TPQN = 0

	_, err := r.Render(context.Background(), snap)
	assert.ErrorIs(t, err, score.ErrInvalidTPQN)
	assert.Empty(t, rec.events)
}
