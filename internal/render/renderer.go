// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package render exposes the renderer facade: the one-call-at-a-time entry
// point that extracts phrases, builds the task graph, runs it against the
// engine, owns the four artifact caches, and emits the render event stream.
package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cantoria/cantoria/internal/dag"
	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/events"
	"github.com/cantoria/cantoria/internal/phrase"
	"github.com/cantoria/cantoria/internal/pipeline"
	"github.com/cantoria/cantoria/internal/score"
)

// Usage errors raised to the caller. They never affect an in-flight render.
var (
	// ErrAlreadyRendering is returned when Render is called concurrently.
	ErrAlreadyRendering = errors.New("a render is already in progress")

	// ErrNotRendering is returned by RequestInterruption while idle.
	ErrNotRendering = errors.New("no render in progress")
)

// Outcome is how a render ended.
type Outcome string

const (
	// OutcomeComplete means the task graph ran out of work.
	OutcomeComplete Outcome = "complete"

	// OutcomeInterrupted means the render was interrupted.
	OutcomeInterrupted Outcome = "interrupted"
)

// Result is the outcome of one Render call. Phrases is populated only on
// completion; every phrase that survived all four stages carries its
// artifacts, and failed phrases carry the error flag instead.
type Result struct {
	Outcome Outcome
	Phrases map[phrase.Key]*phrase.Phrase
}

// Options configures a Renderer.
type Options struct {
	// Pipeline carries the stage tuning knobs.
	Pipeline pipeline.Options

	// PrioritizeCachedTasks enables the runner's cached-first pick.
	PrioritizeCachedTasks bool

	// Selector picks non-cached work. Nil uses dag.FirstRunnableSelector.
	Selector dag.Selector

	// Logger for facade and runner logging. Nil uses slog.Default.
	Logger *slog.Logger
}

// DefaultOptions returns the standard renderer configuration.
func DefaultOptions() Options {
	return Options{
		Pipeline:              pipeline.DefaultOptions(),
		PrioritizeCachedTasks: true,
	}
}

// Renderer is the facade over the incremental phrase-rendering pipeline.
//
// The four caches outlive any single render; entries are content-addressed
// and never evicted within a process. Renders are mutually exclusive.
//
// Thread Safety: Renderer is safe for concurrent use; only one Render runs
// at a time and other callers get ErrAlreadyRendering.
type Renderer struct {
	mu        sync.Mutex
	rendering bool
	runner    *dag.Runner

	engine  engine.Client
	caches  *pipeline.CacheSet
	emitter *events.Emitter
	opts    Options
	logger  *slog.Logger
}

// New creates a Renderer with fresh caches.
func New(client engine.Client, opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		engine:  client,
		caches:  pipeline.NewCacheSet(),
		emitter: events.NewEmitter(),
		opts:    opts,
		logger:  logger,
	}
}

// Events returns the render event emitter for subscribing.
func (r *Renderer) Events() *events.Emitter {
	return r.emitter
}

// Caches exposes the four artifact cache tiers.
func (r *Renderer) Caches() *pipeline.CacheSet {
	return r.caches
}

// IsRendering reports whether a render is in progress.
func (r *Renderer) IsRendering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendering
}

// RequestInterruption asks the in-flight render to stop at its next task
// boundary. Returns ErrNotRendering when idle.
func (r *Renderer) RequestInterruption() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.rendering || r.runner == nil {
		return ErrNotRendering
	}
	r.runner.RequestInterruption()
	return nil
}

// Render runs the full pipeline for one score snapshot.
//
// Description:
//
//	Emits renderingStarted, extracts phrases, builds and validates the
//	task graph, and drives it with the DAG runner, translating task
//	lifecycle hooks into render events. On completion the result carries
//	the phrase map; on interruption it carries only the outcome.
//
// Outputs:
//
//	*Result - outcome plus phrases (completion only).
//	error - ErrAlreadyRendering, snapshot validation errors, or graph
//	        construction errors (programmer errors).
func (r *Renderer) Render(ctx context.Context, snap *score.Snapshot) (*Result, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.rendering {
		r.mu.Unlock()
		return nil, ErrAlreadyRendering
	}
	r.rendering = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.rendering = false
		r.runner = nil
		r.mu.Unlock()
	}()

	r.emitter.Emit(events.TypeRenderingStarted, nil)

	phrases, order, err := phrase.Extract(snap, phrase.ExtractOptions{
		FirstRestMinDurationSeconds: r.opts.Pipeline.FirstRestMinDurationSeconds,
	})
	if err != nil {
		return nil, err
	}

	rc := &pipeline.Context{
		Snapshot: snap,
		Phrases:  phrases,
		Engine:   r.engine,
		Caches:   r.caches,
		Options:  r.opts.Pipeline,
		Logger:   r.logger,
	}
	tasks, index := pipeline.Build(rc, order)
	graph, err := dag.NewGraph(tasks)
	if err != nil {
		return nil, err
	}

	adapter := newEventAdapter(r.emitter, index, phrases)

	runnerOpts := []dag.RunnerOption{
		dag.WithHooks(adapter.hooks()),
		dag.WithPrioritizeCached(r.opts.PrioritizeCachedTasks),
		dag.WithRunnerLogger(r.logger),
	}
	if r.opts.Selector != nil {
		runnerOpts = append(runnerOpts, dag.WithSelector(r.opts.Selector))
	}
	runner := dag.NewRunner(graph, runnerOpts...)

	r.mu.Lock()
	r.runner = runner
	r.mu.Unlock()

	outcome, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	// Phrases whose tasks were skipped also carry the error flag.
	for task, key := range index.PhraseKeys {
		if runner.Status(task) == dag.StatusSkipped {
			phrases[key].ErrorOccurredDuringRendering = true
		}
	}

	adapter.finish(outcome)

	if outcome == dag.OutcomeInterrupted {
		return &Result{Outcome: OutcomeInterrupted}, nil
	}
	return &Result{Outcome: OutcomeComplete, Phrases: phrases}, nil
}
