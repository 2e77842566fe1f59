// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phrase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantoria/cantoria/internal/score"
)

func testSnapshot(tracks ...score.Track) *score.Snapshot {
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

func quarterNotes(ids []string, startPos int64) []score.Note {
	notes := make([]score.Note, len(ids))
	pos := startPos
	for i, id := range ids {
		notes[i] = score.Note{ID: id, Position: pos, Duration: 480, NoteNumber: 60 + i, Lyric: "ら"}
		pos += 480
	}
	return notes
}

func TestExtract_SplitsAtGaps(t *testing.T) {
	notes := quarterNotes([]string{"a", "b"}, 480)
	notes = append(notes, score.Note{ID: "c", Position: 2000, Duration: 480, NoteNumber: 64})
	snap := testSnapshot(score.Track{ID: "T1", Notes: notes})

	phrases, order, err := Extract(snap, ExtractOptions{})
	require.NoError(t, err)
	require.Len(t, phrases, 2)
	require.Len(t, order, 2)

	first := phrases[order[0]]
	second := phrases[order[1]]
	assert.Equal(t, []string{"a", "b"}, noteIDs(first.Notes))
	assert.Equal(t, []string{"c"}, noteIDs(second.Notes))
	assert.Equal(t, int64(480), first.StartTicks)
	assert.Equal(t, int64(1440), first.EndTicks)
}

func TestExtract_PhrasesAreDisjoint(t *testing.T) {
	notes := quarterNotes([]string{"a"}, 0)
	notes = append(notes, quarterNotes([]string{"b"}, 960)...)
	notes = append(notes, quarterNotes([]string{"c"}, 2400)...)
	snap := testSnapshot(score.Track{ID: "T1", Notes: notes})

	phrases, order, err := Extract(snap, ExtractOptions{})
	require.NoError(t, err)
	require.Len(t, order, 3)

	var prevEnd int64 = -1
	for _, key := range order {
		p := phrases[key]
		assert.Greater(t, p.StartTicks, prevEnd-1)
		prevEnd = p.EndTicks
	}
}

func TestExtract_DropsOverlappingNotes(t *testing.T) {
	notes := []score.Note{
		{ID: "a", Position: 0, Duration: 480, NoteNumber: 60},
		{ID: "b", Position: 240, Duration: 480, NoteNumber: 62},
		{ID: "c", Position: 480, Duration: 480, NoteNumber: 64},
	}
	snap := testSnapshot(score.Track{ID: "T1", Notes: notes})
	snap.OverlappingNoteIDs["T1"] = map[string]struct{}{"b": {}}

	phrases, _, err := Extract(snap, ExtractOptions{})
	require.NoError(t, err)
	require.Len(t, phrases, 1)
	for _, p := range phrases {
		assert.Equal(t, []string{"a", "c"}, noteIDs(p.Notes))
	}
}

func TestExtract_FirstRestCappedAtQuarter(t *testing.T) {
	// The first note sits two quarters in; the leading rest is capped at
	// one quarter note's worth of ticks.
	snap := testSnapshot(score.Track{ID: "T1", Notes: quarterNotes([]string{"a"}, 960)})

	phrases, order, err := Extract(snap, ExtractOptions{})
	require.NoError(t, err)
	p := phrases[order[0]]
	assert.Equal(t, int64(480), p.FirstRestDuration)
	assert.InDelta(t, snap.TickToSecond(960-480), p.StartTime, 1e-12)
}

func TestExtract_FirstRestRaisedToMinimum(t *testing.T) {
	// A note at tick 0 has no room for a rest; the configured minimum
	// forces one, pushing the start time negative.
	snap := testSnapshot(score.Track{ID: "T1", Notes: quarterNotes([]string{"a"}, 0)})

	phrases, order, err := Extract(snap, ExtractOptions{FirstRestMinDurationSeconds: 0.12})
	require.NoError(t, err)
	p := phrases[order[0]]

	// 0.12 s at 120 BPM and tpqn 480 is 115.2 ticks, rounded up.
	assert.Equal(t, int64(116), p.FirstRestDuration)
	assert.Negative(t, p.StartTime)
}

func TestExtract_FirstRestFloorsAtOneTick(t *testing.T) {
	snap := testSnapshot(score.Track{ID: "T1", Notes: quarterNotes([]string{"a"}, 0)})

	phrases, order, err := Extract(snap, ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), phrases[order[0]].FirstRestDuration)
}

func TestExtract_InterPhraseRestUsesGap(t *testing.T) {
	notes := quarterNotes([]string{"a"}, 0)
	notes = append(notes, score.Note{ID: "b", Position: 600, Duration: 480, NoteNumber: 62})
	snap := testSnapshot(score.Track{ID: "T1", Notes: notes})

	phrases, order, err := Extract(snap, ExtractOptions{})
	require.NoError(t, err)
	require.Len(t, order, 2)

	// Gap between phrase one's end (480) and phrase two's start (600).
	assert.Equal(t, int64(120), phrases[order[1]].FirstRestDuration)
}

func TestExtract_EmptyTrackYieldsNoPhrases(t *testing.T) {
	snap := testSnapshot(score.Track{ID: "T1"})

	phrases, order, err := Extract(snap, ExtractOptions{})
	require.NoError(t, err)
	assert.Empty(t, phrases)
	assert.Empty(t, order)
}

func TestExtract_KeyMatchesRecomputation(t *testing.T) {
	snap := testSnapshot(score.Track{ID: "T1", Notes: quarterNotes([]string{"a", "b"}, 480)})

	phrases, _, err := Extract(snap, ExtractOptions{FirstRestMinDurationSeconds: 0.12})
	require.NoError(t, err)

	for key, p := range phrases {
		recomputed, err := ComputeKey(p.FirstRestDuration, p.Notes, p.StartTime, p.TrackID)
		require.NoError(t, err)
		assert.Equal(t, key, recomputed)
		assert.Equal(t, key, p.Key)
	}
}

func TestExtract_KeysStableUnderTrackPermutation(t *testing.T) {
	trackA := score.Track{ID: "A", Notes: quarterNotes([]string{"a1", "a2"}, 0)}
	trackB := score.Track{ID: "B", Notes: quarterNotes([]string{"b1"}, 960)}

	forward, _, err := Extract(testSnapshot(trackA, trackB), ExtractOptions{})
	require.NoError(t, err)
	backward, _, err := Extract(testSnapshot(trackB, trackA), ExtractOptions{})
	require.NoError(t, err)

	require.Equal(t, len(forward), len(backward))
	for key := range forward {
		assert.Contains(t, backward, key)
	}
}

func noteIDs(notes []score.Note) []string {
	ids := make([]string, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	return ids
}
