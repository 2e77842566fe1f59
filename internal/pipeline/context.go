// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline builds and implements the five task kinds of the
// phrase-rendering pipeline: query generation, phoneme-timing adjustment,
// pitch generation, volume generation, and voice synthesis.
package pipeline

import (
	"errors"
	"log/slog"

	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/phrase"
	"github.com/cantoria/cantoria/internal/score"
)

// Sentinel errors raised by stage logic. They are fatal for the failing
// task but never stop the run.
var (
	// ErrNoSinger is returned when a task input phrase has no singer.
	ErrNoSinger = errors.New("phrase has no singer")

	// ErrEmptyPhonemes is returned when a query carries no phonemes.
	ErrEmptyPhonemes = errors.New("query has no phonemes")

	// ErrMissingTrailingPau is returned when a query does not end in pau.
	ErrMissingTrailingPau = errors.New("query does not end with a pau phoneme")

	// ErrFrameCountMismatch is returned when an engine array disagrees
	// with the query's frame total.
	ErrFrameCountMismatch = errors.New("array length does not match query frame total")

	// ErrMissingArtifact is a programmer error: a dependency artifact that
	// must exist is absent.
	ErrMissingArtifact = errors.New("expected artifact is missing")

	// ErrUnknownEngine is returned when the snapshot has no frame rate for
	// a phrase's engine.
	ErrUnknownEngine = errors.New("no frame rate registered for engine")
)

// Options are the §6 configuration knobs of the pipeline.
type Options struct {
	// SingingTeacherStyleID is the style used for the query, pitch, and
	// volume engine calls. Voice synthesis uses the phrase singer's style.
	SingingTeacherStyleID int

	// FirstRestMinDurationSeconds floors a phrase's leading rest.
	FirstRestMinDurationSeconds float64

	// LastRestDurationSeconds is the fixed trailing rest of every phrase.
	LastRestDurationSeconds float64

	// FadeOutDurationSeconds is the trailing-pau linear ramp length.
	FadeOutDurationSeconds float64
}

// DefaultOptions returns the standard pipeline tuning.
func DefaultOptions() Options {
	return Options{
		SingingTeacherStyleID:       6000,
		FirstRestMinDurationSeconds: 0.12,
		LastRestDurationSeconds:     0.5,
		FadeOutDurationSeconds:      0.15,
	}
}

// Context is the shared state of one render: the immutable snapshot, the
// phrase map being populated, the engine client, and the cache tiers.
//
// Thread Safety: the runner is single-threaded; the phrase map is written
// only from stage Run calls.
type Context struct {
	Snapshot *score.Snapshot
	Phrases  map[phrase.Key]*phrase.Phrase
	Engine   engine.Client
	Caches   *CacheSet
	Options  Options
	Logger   *slog.Logger
}

// frameRateFor returns the engine frame rate for a phrase's singer.
func (c *Context) frameRateFor(p *phrase.Phrase) (float64, error) {
	if p.Singer == nil {
		return 0, ErrNoSinger
	}
	rate, ok := c.Snapshot.EngineFrameRates[p.Singer.EngineID]
	if !ok {
		return 0, ErrUnknownEngine
	}
	return rate, nil
}

// trackFor returns the owning track of a phrase.
func (c *Context) trackFor(p *phrase.Phrase) (*score.Track, error) {
	track, ok := c.Snapshot.Track(p.TrackID)
	if !ok {
		return nil, ErrMissingArtifact
	}
	return track, nil
}
