// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for listener management.
var (
	// ErrDuplicateListener is returned when an id is registered twice.
	ErrDuplicateListener = errors.New("listener id already registered")

	// ErrListenerNotFound is returned when unsubscribing an unknown id.
	ErrListenerNotFound = errors.New("listener id not registered")
)

// Listener processes events.
type Listener func(event *Event)

// Emitter broadcasts render events to listeners, synchronously and in
// registration order. A bounded ring of recent events is kept so late
// subscribers (e.g. a websocket client connecting mid-render) can catch up.
//
// Thread Safety: Emitter is safe for concurrent use. Emit holds no lock
// while invoking listeners, but calls them from the emitting goroutine.
type Emitter struct {
	mu         sync.RWMutex
	order      []string
	listeners  map[string]Listener
	buffer     []Event
	bufferSize int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the retained-event ring size. Default 256.
func WithBufferSize(n int) EmitterOption {
	return func(e *Emitter) { e.bufferSize = n }
}

// NewEmitter creates an event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		listeners:  make(map[string]Listener),
		bufferSize: 256,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a listener under a caller-chosen id.
//
// Outputs:
//
//	error - ErrDuplicateListener when the id is already registered.
func (e *Emitter) Subscribe(id string, l Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listeners[id]; ok {
		return ErrDuplicateListener
	}
	e.listeners[id] = l
	e.order = append(e.order, id)
	return nil
}

// Unsubscribe removes a listener.
//
// Outputs:
//
//	error - ErrListenerNotFound when the id is not registered.
func (e *Emitter) Unsubscribe(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listeners[id]; !ok {
		return ErrListenerNotFound
	}
	delete(e.listeners, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// Emit broadcasts an event to all listeners in registration order. A
// panicking listener is recovered and logged so the remaining listeners
// still observe the event.
func (e *Emitter) Emit(eventType Type, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	ordered := make([]Listener, 0, len(e.order))
	for _, id := range e.order {
		ordered = append(ordered, e.listeners[id])
	}
	e.mu.Unlock()

	for _, l := range ordered {
		e.safeInvoke(l, &event)
	}
}

// safeInvoke calls one listener with panic recovery.
func (e *Emitter) safeInvoke(l Listener, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("render event listener panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	l(event)
}

// Buffer returns a copy of the retained events.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Event, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// ListenerCount returns the number of registered listeners.
func (e *Emitter) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// LoggingListener returns a listener that logs every event.
func LoggingListener(logger *slog.Logger, level slog.Level) Listener {
	return func(event *Event) {
		attrs := []any{
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
		}
		switch data := event.Data.(type) {
		case *CacheLoadFinishedData:
			attrs = append(attrs, slog.Int("phrase_count", len(data.PhraseKeys)))
		case *TrackQueryGenerationStartedData:
			attrs = append(attrs, slog.String("track_id", data.TrackID))
		case *TrackQueryGenerationFinishedData:
			attrs = append(attrs, slog.String("track_id", data.TrackID), slog.Int("results", len(data.Results)))
		case *PhraseStageStartedData:
			attrs = append(attrs, slog.String("phrase_key", string(data.PhraseKey)))
		case *PhraseStageFinishedData:
			attrs = append(attrs, slog.String("phrase_key", string(data.PhraseKey)), slog.Bool("success", data.Result.Success()))
			if data.Result.Error != "" {
				attrs = append(attrs, slog.String("error", data.Result.Error))
			}
		}
		logger.Log(nil, level, "render event", attrs...)
	}
}
