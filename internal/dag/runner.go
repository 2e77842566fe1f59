// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeCompleted means the selector ran out of work.
	OutcomeCompleted Outcome = "completed"

	// OutcomeInterrupted means RequestInterruption stopped the loop.
	OutcomeInterrupted Outcome = "interrupted"
)

// Hooks receive task lifecycle notifications. Either field may be nil.
// Hooks are invoked synchronously from the run loop, so TaskStarted fires
// strictly before the matching TaskFinished.
type Hooks struct {
	TaskStarted  func(task Task, cached bool)
	TaskFinished func(task Task, cached bool, err error)
}

// Selector picks the next task to run. It receives every task of the graph
// plus a status accessor and must return a task whose status is
// StatusRunnable, or nil for "no work right now", which ends the run.
//
// Hosts use selectors to prioritize work, e.g. by playhead proximity.
type Selector func(tasks []Task, status func(Task) RunStatus) Task

// FirstRunnableSelector returns the first runnable task in graph order.
func FirstRunnableSelector(tasks []Task, status func(Task) RunStatus) Task {
	for _, t := range tasks {
		if status(t) == StatusRunnable {
			return t
		}
	}
	return nil
}

// Runner drives a Graph to completion, single-threaded and cooperatively.
// See the package documentation for the loop structure.
//
// Thread Safety: Run owns all runner state; only RequestInterruption may be
// called from other goroutines.
type Runner struct {
	graph            *Graph
	selector         Selector
	prioritizeCached bool
	hooks            Hooks
	logger           *slog.Logger
	tracer           trace.Tracer

	statuses      map[Task]RunStatus
	cacheStatuses map[Task]CacheStatus
	pending       []Task // cache-check queue
	cachedStack   []Task // cache hits awaiting execution, LIFO

	interrupted atomic.Bool
	running     atomic.Bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSelector installs the task selector. Default: FirstRunnableSelector.
func WithSelector(s Selector) RunnerOption {
	return func(r *Runner) { r.selector = s }
}

// WithPrioritizeCached toggles the cached-first pick. Cache hits are cheap
// and unblock downstream work, so completing them first exposes more
// parallelism to the selector. Default: true.
func WithPrioritizeCached(on bool) RunnerOption {
	return func(r *Runner) { r.prioritizeCached = on }
}

// WithHooks installs task lifecycle hooks.
func WithHooks(h Hooks) RunnerOption {
	return func(r *Runner) { r.hooks = h }
}

// WithRunnerLogger overrides the runner's logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for the graph.
func NewRunner(graph *Graph, opts ...RunnerOption) *Runner {
	r := &Runner{
		graph:            graph,
		selector:         FirstRunnableSelector,
		prioritizeCached: true,
		logger:           slog.Default(),
		tracer:           otel.Tracer("cantoria/dag"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestInterruption asks the run loop to exit before its next pick.
// In-flight stage work is not cancelled.
func (r *Runner) RequestInterruption() {
	r.interrupted.Store(true)
}

// Status returns a task's run status. Only meaningful during and after Run.
func (r *Runner) Status(t Task) RunStatus {
	if s, ok := r.statuses[t]; ok {
		return s
	}
	return StatusAwaitingDependencies
}

// CacheStatus returns the result of the cache probe for a task.
func (r *Runner) CacheStatus(t Task) CacheStatus {
	if s, ok := r.cacheStatuses[t]; ok {
		return s
	}
	return CacheUnchecked
}

// Run executes the graph until no work remains or interruption is
// requested. Unsettled tasks are swept to skipped on exit.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	defer r.running.Store(false)
	r.interrupted.Store(false)

	r.statuses = make(map[Task]RunStatus, len(r.graph.Tasks()))
	r.cacheStatuses = make(map[Task]CacheStatus, len(r.graph.Tasks()))
	for _, t := range r.graph.Tasks() {
		r.statuses[t] = StatusAwaitingDependencies
		r.cacheStatuses[t] = CacheUnchecked
	}
	r.pending = r.pending[:0]
	r.cachedStack = r.cachedStack[:0]
	for _, root := range r.graph.Roots() {
		r.statuses[root] = StatusRunnable
		r.pending = append(r.pending, root)
	}

	outcome := OutcomeCompleted
	for {
		if r.interrupted.Load() {
			outcome = OutcomeInterrupted
			break
		}

		r.drainCacheChecks(ctx)

		task := r.pickNext()
		if task == nil {
			break
		}
		if r.statuses[task] != StatusRunnable {
			r.sweepUnsettled()
			return "", ErrSelectorReturnedNonRunnable
		}

		r.execute(ctx, task)
	}

	r.sweepUnsettled()
	return outcome, nil
}

// drainCacheChecks probes every queued task's cache entry.
func (r *Runner) drainCacheChecks(ctx context.Context) {
	for len(r.pending) > 0 {
		t := r.pending[0]
		r.pending = r.pending[1:]
		if r.cacheStatuses[t] != CacheUnchecked {
			continue
		}
		if !t.Cacheable() {
			r.cacheStatuses[t] = CacheMiss
			continue
		}
		hit, err := t.IsCached(ctx)
		if err != nil {
			r.logger.Warn("cache probe failed", "task", t.Name(), "error", err)
			r.cacheStatuses[t] = CacheMiss
			continue
		}
		if hit {
			r.cacheStatuses[t] = CacheHit
			r.cachedStack = append(r.cachedStack, t)
		} else {
			r.cacheStatuses[t] = CacheMiss
		}
	}
}

// pickNext returns the next task to execute: a cached runnable when the
// cached-first policy is on, otherwise the selector's choice.
func (r *Runner) pickNext() Task {
	if r.prioritizeCached {
		for len(r.cachedStack) > 0 {
			top := r.cachedStack[len(r.cachedStack)-1]
			r.cachedStack = r.cachedStack[:len(r.cachedStack)-1]
			if r.statuses[top] == StatusRunnable {
				return top
			}
		}
	}
	return r.selector(r.graph.Tasks(), r.Status)
}

// execute runs one task and propagates its outcome.
func (r *Runner) execute(ctx context.Context, t Task) {
	cached := r.cacheStatuses[t] == CacheHit
	r.statuses[t] = StatusRunning
	if r.hooks.TaskStarted != nil {
		r.hooks.TaskStarted(t, cached)
	}

	taskCtx, span := r.tracer.Start(ctx, "render.task",
		trace.WithAttributes(
			attribute.String("task.name", t.Name()),
			attribute.String("task.kind", string(t.Kind())),
			attribute.Bool("task.cached", cached),
		))
	err := t.Run(taskCtx)
	span.End()

	if err != nil {
		r.statuses[t] = StatusFailed
		r.logger.Warn("task failed", "task", t.Name(), "kind", t.Kind(), "error", err)
	} else {
		r.statuses[t] = StatusSuccess
		r.logger.Debug("task finished", "task", t.Name(), "kind", t.Kind(), "cached", cached)
	}

	if r.hooks.TaskFinished != nil {
		r.hooks.TaskFinished(t, cached, err)
	}

	if err != nil {
		r.propagateFailure(t)
	} else {
		r.propagateSuccess(t)
	}
}

// propagateSuccess promotes children whose parents have all settled.
func (r *Runner) propagateSuccess(t Task) {
	for _, child := range r.graph.Children(t) {
		if r.statuses[child] != StatusAwaitingDependencies {
			continue
		}
		if r.allParentsSettled(child) {
			r.statuses[child] = StatusRunnable
			r.pending = append(r.pending, child)
		}
	}
}

// propagateFailure walks descendants depth-first applying skip policies.
func (r *Runner) propagateFailure(t Task) {
	for _, child := range r.graph.Children(t) {
		if r.statuses[child] != StatusAwaitingDependencies {
			continue
		}
		switch child.SkipPolicy() {
		case AnyDependencyFailedOrSkipped:
			if r.anyParentFailedOrSkipped(child) {
				r.skip(child)
				continue
			}
		case AllDependenciesFailedOrSkipped:
			if r.allParentsFailedOrSkipped(child) {
				r.skip(child)
				continue
			}
		}
		if r.allParentsSettled(child) {
			r.statuses[child] = StatusRunnable
			r.pending = append(r.pending, child)
		}
	}
}

// skip marks a task skipped and continues the failure walk below it.
func (r *Runner) skip(t Task) {
	r.statuses[t] = StatusSkipped
	r.logger.Debug("task skipped", "task", t.Name(), "kind", t.Kind())
	r.propagateFailure(t)
}

// sweepUnsettled marks every not-yet-settled task skipped.
func (r *Runner) sweepUnsettled() {
	for _, t := range r.graph.Tasks() {
		if s := r.statuses[t]; s == StatusAwaitingDependencies || s == StatusRunnable {
			r.statuses[t] = StatusSkipped
		}
	}
}

func (r *Runner) allParentsSettled(t Task) bool {
	for _, p := range r.graph.Parents(t) {
		if !r.statuses[p].Settled() {
			return false
		}
	}
	return true
}

func (r *Runner) anyParentFailedOrSkipped(t Task) bool {
	for _, p := range r.graph.Parents(t) {
		if r.statuses[p].FailedOrSkipped() {
			return true
		}
	}
	return false
}

func (r *Runner) allParentsFailedOrSkipped(t Task) bool {
	for _, p := range r.graph.Parents(t) {
		if !r.statuses[p].FailedOrSkipped() {
			return false
		}
	}
	return true
}
