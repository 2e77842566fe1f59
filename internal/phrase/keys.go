// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phrase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/score"
)

// Key types for the cache tiers. Each is the hex SHA-256 of the canonical
// JSON serialization of the task's logical input bundle: struct fields
// marshal in declaration order and float64 values round-trip exactly, so
// value-equal inputs produce byte-equal serializations and equal keys.
type (
	// Key identifies a phrase by its score-derived content.
	Key string

	// QueryKey identifies a frame audio query artifact.
	QueryKey string

	// PitchKey identifies a generated f0 artifact.
	PitchKey string

	// VolumeKey identifies a generated volume artifact.
	VolumeKey string

	// VoiceKey identifies a synthesized voice artifact.
	VoiceKey string
)

// hashObject returns the hex SHA-256 of v's canonical JSON form.
func hashObject(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize key input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// phraseKeyInput is the §3 invariant-1 bundle: the phrase key depends only
// on these four fields.
type phraseKeyInput struct {
	FirstRestDuration int64        `json:"first_rest_duration"`
	Notes             []score.Note `json:"notes"`
	StartTime         float64      `json:"start_time"`
	TrackID           string       `json:"track_id"`
}

// ComputeKey derives the phrase key.
func ComputeKey(firstRestDuration int64, notes []score.Note, startTime float64, trackID string) (Key, error) {
	h, err := hashObject(phraseKeyInput{
		FirstRestDuration: firstRestDuration,
		Notes:             notes,
		StartTime:         startTime,
		TrackID:           trackID,
	})
	return Key(h), err
}

type queryKeyInput struct {
	EngineID           string        `json:"engine_id"`
	StyleID            int           `json:"style_id"`
	FrameRate          float64       `json:"frame_rate"`
	Notes              []engine.Note `json:"notes"`
	KeyRangeAdjustment int           `json:"key_range_adjustment"`
}

// ComputeQueryKey derives the query artifact key from the engine call's
// logical inputs. Notes are the notes-for-engine before key shifting; the
// shift amount participates separately.
func ComputeQueryKey(engineID string, styleID int, frameRate float64, notes []engine.Note, keyRangeAdjustment int) (QueryKey, error) {
	h, err := hashObject(queryKeyInput{
		EngineID:           engineID,
		StyleID:            styleID,
		FrameRate:          frameRate,
		Notes:              notes,
		KeyRangeAdjustment: keyRangeAdjustment,
	})
	return QueryKey(h), err
}

type pitchKeyInput struct {
	EngineID           string        `json:"engine_id"`
	StyleID            int           `json:"style_id"`
	Query              *engine.Query `json:"query"`
	Notes              []engine.Note `json:"notes"`
	KeyRangeAdjustment int           `json:"key_range_adjustment"`
}

// ComputePitchKey derives the pitch artifact key. Query is the
// phoneme-timing-adjusted query, so timing edits flow into the key.
func ComputePitchKey(engineID string, styleID int, query *engine.Query, notes []engine.Note, keyRangeAdjustment int) (PitchKey, error) {
	h, err := hashObject(pitchKeyInput{
		EngineID:           engineID,
		StyleID:            styleID,
		Query:              query,
		Notes:              notes,
		KeyRangeAdjustment: keyRangeAdjustment,
	})
	return PitchKey(h), err
}

type volumeKeyInput struct {
	EngineID              string        `json:"engine_id"`
	StyleID               int           `json:"style_id"`
	Query                 *engine.Query `json:"query"`
	Pitch                 []float64     `json:"pitch"`
	PitchEdits            []float64     `json:"pitch_edits"`
	Notes                 []engine.Note `json:"notes"`
	KeyRangeAdjustment    int           `json:"key_range_adjustment"`
	VolumeRangeAdjustment float64       `json:"volume_range_adjustment"`
	FadeOutSeconds        float64       `json:"fade_out_seconds"`
}

// ComputeVolumeKey derives the volume artifact key. Pitch is the generated
// f0; PitchEdits is the phrase-local slice of user overrides so edits
// invalidate the cache entry.
func ComputeVolumeKey(engineID string, styleID int, query *engine.Query, pitch, pitchEdits []float64, notes []engine.Note, keyRangeAdjustment int, volumeRangeAdjustment, fadeOutSeconds float64) (VolumeKey, error) {
	h, err := hashObject(volumeKeyInput{
		EngineID:              engineID,
		StyleID:               styleID,
		Query:                 query,
		Pitch:                 pitch,
		PitchEdits:            pitchEdits,
		Notes:                 notes,
		KeyRangeAdjustment:    keyRangeAdjustment,
		VolumeRangeAdjustment: volumeRangeAdjustment,
		FadeOutSeconds:        fadeOutSeconds,
	})
	return VolumeKey(h), err
}

type voiceKeyInput struct {
	EngineID   string        `json:"engine_id"`
	StyleID    int           `json:"style_id"`
	Query      *engine.Query `json:"query"`
	Pitch      []float64     `json:"pitch"`
	PitchEdits []float64     `json:"pitch_edits"`
	Volume     []float64     `json:"volume"`
}

// ComputeVoiceKey derives the voice artifact key from everything that
// reaches frame synthesis.
func ComputeVoiceKey(engineID string, styleID int, query *engine.Query, pitch, pitchEdits, volume []float64) (VoiceKey, error) {
	h, err := hashObject(voiceKeyInput{
		EngineID:   engineID,
		StyleID:    styleID,
		Query:      query,
		Pitch:      pitch,
		PitchEdits: pitchEdits,
		Volume:     volume,
	})
	return VoiceKey(h), err
}
