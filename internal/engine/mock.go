// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
)

// MockClient is a configurable in-memory Client for tests.
//
// By default it behaves like a deterministic engine: queries get one leading
// and one trailing pau around one phoneme per sung note, f0 follows the note
// keys, volume is flat, and synthesis returns a byte blob derived from the
// query. Any operation can be overridden with a function field.
type MockClient struct {
	mu sync.Mutex

	// Overrides; nil falls back to the deterministic default.
	FrameAudioQueryFn func(ctx context.Context, engineID string, styleID int, frameRate float64, notes []Note) (*Query, error)
	SingFrameF0Fn     func(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error)
	SingFrameVolumeFn func(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error)
	FrameSynthesisFn  func(ctx context.Context, engineID string, styleID int, query *Query) ([]byte, error)

	// Call counters, per operation.
	QueryCalls     int
	F0Calls        int
	VolumeCalls    int
	SynthesisCalls int
}

// NewMockClient creates a MockClient with default behavior.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CallTotal returns the total number of engine calls made.
func (m *MockClient) CallTotal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.QueryCalls + m.F0Calls + m.VolumeCalls + m.SynthesisCalls
}

// ResetCalls zeroes all call counters.
func (m *MockClient) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls, m.F0Calls, m.VolumeCalls, m.SynthesisCalls = 0, 0, 0, 0
}

// FetchFrameAudioQuery implements Client.
func (m *MockClient) FetchFrameAudioQuery(ctx context.Context, engineID string, styleID int, frameRate float64, notes []Note) (*Query, error) {
	m.mu.Lock()
	m.QueryCalls++
	fn := m.FrameAudioQueryFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, engineID, styleID, frameRate, notes)
	}

	phonemes := make([]FramePhoneme, 0, len(notes))
	for _, n := range notes {
		if n.Key == nil {
			phonemes = append(phonemes, FramePhoneme{Phoneme: "pau", FrameLength: n.FrameLength})
		} else {
			phonemes = append(phonemes, FramePhoneme{Phoneme: "a", FrameLength: n.FrameLength, NoteID: n.ID})
		}
	}

	q := &Query{FramePhonemes: phonemes, FrameRate: frameRate}
	total := q.FrameTotal()
	q.F0 = make([]float64, total)
	q.Volume = make([]float64, total)
	frame := 0
	for i, n := range notes {
		value := 0.0
		if n.Key != nil {
			value = midiToFrequency(*n.Key)
		}
		for j := 0; j < phonemes[i].FrameLength; j++ {
			q.F0[frame] = value
			q.Volume[frame] = 0.5
			frame++
		}
	}
	return q, nil
}

// FetchSingFrameF0 implements Client.
func (m *MockClient) FetchSingFrameF0(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error) {
	m.mu.Lock()
	m.F0Calls++
	fn := m.SingFrameF0Fn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, engineID, styleID, notes, query)
	}

	f0 := make([]float64, query.FrameTotal())
	frame := 0
	for _, n := range notes {
		value := 0.0
		if n.Key != nil {
			value = midiToFrequency(*n.Key)
		}
		for j := 0; j < n.FrameLength && frame < len(f0); j++ {
			f0[frame] = value
			frame++
		}
	}
	return f0, nil
}

// FetchSingFrameVolume implements Client.
func (m *MockClient) FetchSingFrameVolume(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error) {
	m.mu.Lock()
	m.VolumeCalls++
	fn := m.SingFrameVolumeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, engineID, styleID, notes, query)
	}

	volume := make([]float64, query.FrameTotal())
	for i := range volume {
		volume[i] = 0.5
	}
	return volume, nil
}

// FrameSynthesis implements Client.
func (m *MockClient) FrameSynthesis(ctx context.Context, engineID string, styleID int, query *Query) ([]byte, error) {
	m.mu.Lock()
	m.SynthesisCalls++
	fn := m.FrameSynthesisFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, engineID, styleID, query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "voice:%d:", query.FrameTotal())
	for _, p := range query.FramePhonemes {
		sb.WriteString(p.Phoneme)
		sb.WriteByte(',')
	}
	return []byte(sb.String()), nil
}

// midiToFrequency converts a MIDI note number to Hz (A4 = 440).
func midiToFrequency(key int) float64 {
	return 440.0 * math.Exp2(float64(key-69)/12.0)
}
