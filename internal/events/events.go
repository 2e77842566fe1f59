// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events defines the render event stream and its emitter. UI
// layers subscribe to reflect pipeline progress; delivery is synchronous
// and in registration order.
package events

import (
	"time"

	"github.com/cantoria/cantoria/internal/phrase"
)

// Type enumerates render event kinds.
type Type string

const (
	TypeRenderingStarted             Type = "renderingStarted"
	TypeCacheLoadFinished            Type = "cacheLoadFinished"
	TypeTrackQueryGenerationStarted  Type = "trackQueryGenerationStarted"
	TypeTrackQueryGenerationFinished Type = "trackQueryGenerationFinished"
	TypePitchGenerationStarted       Type = "pitchGenerationStarted"
	TypePitchGenerationFinished      Type = "pitchGenerationFinished"
	TypeVolumeGenerationStarted      Type = "volumeGenerationStarted"
	TypeVolumeGenerationFinished     Type = "volumeGenerationFinished"
	TypeVoiceSynthesisStarted        Type = "voiceSynthesisStarted"
	TypeVoiceSynthesisFinished       Type = "voiceSynthesisFinished"
	TypeRenderingCompleted           Type = "renderingCompleted"
)

// Event is one entry of the render event stream.
type Event struct {
	// ID uniquely identifies the event instance.
	ID string `json:"id"`

	// Type tags the payload in Data.
	Type Type `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Data is the type-specific payload (one of the *Data structs below).
	Data any `json:"data,omitempty"`
}

// StageResult is the outcome of one per-phrase stage: either the content key
// of the produced artifact, or an error. The artifact itself is not carried.
type StageResult struct {
	// Err is non-nil when the stage failed.
	Err error `json:"-"`

	// Error mirrors Err as a string for JSON transport.
	Error string `json:"error,omitempty"`

	// ArtifactKey is the content key of the produced artifact on success.
	ArtifactKey string `json:"artifact_key,omitempty"`
}

// NewStageSuccess builds a successful StageResult.
func NewStageSuccess(artifactKey string) StageResult {
	return StageResult{ArtifactKey: artifactKey}
}

// NewStageError builds a failed StageResult.
func NewStageError(err error) StageResult {
	return StageResult{Err: err, Error: err.Error()}
}

// Success reports whether the stage succeeded.
func (r StageResult) Success() bool {
	return r.Err == nil && r.Error == ""
}

// CacheLoadFinishedData reports the end of the cache-load phase: the
// contiguous run prefix in which every started task was a cache hit.
type CacheLoadFinishedData struct {
	// PhraseKeys lists the phrases whose artifacts were loaded from cache.
	PhraseKeys []phrase.Key `json:"phrase_keys"`
}

// TrackQueryGenerationStartedData marks the first query task of a track.
type TrackQueryGenerationStartedData struct {
	TrackID string `json:"track_id"`
}

// TrackQueryGenerationFinishedData aggregates every per-phrase query
// result of one track, delivered together once the last query settles.
type TrackQueryGenerationFinishedData struct {
	TrackID string                       `json:"track_id"`
	Results map[phrase.Key]StageResult   `json:"results"`
}

// PhraseStageStartedData marks the start of a per-phrase stage
// (pitch, volume, or voice).
type PhraseStageStartedData struct {
	PhraseKey phrase.Key `json:"phrase_key"`
}

// PhraseStageFinishedData carries a per-phrase stage outcome.
type PhraseStageFinishedData struct {
	PhraseKey phrase.Key  `json:"phrase_key"`
	Result    StageResult `json:"result"`
}
