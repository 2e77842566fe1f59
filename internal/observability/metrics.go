// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the rendering
// pipeline. Metrics are fed from the render event stream and the engine
// client observer; nothing in the core pipeline depends on this package.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cantoria/cantoria/internal/events"
)

const (
	metricsNamespace = "cantoria"
	renderSubsystem  = "render"
	engineSubsystem  = "engine"
)

// RenderMetrics holds the Prometheus metrics of the renderer.
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking.
type RenderMetrics struct {
	// RendersTotal counts render runs by final event observed.
	// Labels: outcome (completed).
	RendersTotal *prometheus.CounterVec

	// StageResultsTotal counts per-phrase stage outcomes.
	// Labels: stage (query, pitch, volume, voice), result (success, error).
	StageResultsTotal *prometheus.CounterVec

	// CacheLoadedPhrases observes how many phrases each render served
	// entirely from cache during the cache-load phase.
	CacheLoadedPhrases prometheus.Histogram

	// EngineCallsTotal counts engine API calls.
	// Labels: op, status (success, error).
	EngineCallsTotal *prometheus.CounterVec

	// EngineCallSeconds measures engine call latency by operation.
	EngineCallSeconds *prometheus.HistogramVec
}

// NewRenderMetrics creates and registers the render metrics.
func NewRenderMetrics(reg prometheus.Registerer) *RenderMetrics {
	factory := promauto.With(reg)
	return &RenderMetrics{
		RendersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: renderSubsystem,
			Name:      "runs_total",
			Help:      "Render runs by outcome.",
		}, []string{"outcome"}),
		StageResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: renderSubsystem,
			Name:      "stage_results_total",
			Help:      "Per-phrase stage outcomes.",
		}, []string{"stage", "result"}),
		CacheLoadedPhrases: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: renderSubsystem,
			Name:      "cache_loaded_phrases",
			Help:      "Phrases served from cache in the cache-load phase.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		EngineCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "calls_total",
			Help:      "Engine API calls by operation and status.",
		}, []string{"op", "status"}),
		EngineCallSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "call_seconds",
			Help:      "Engine API call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// Listener returns a render event listener feeding the metrics. Register
// it on the renderer's emitter like any other subscriber.
func (m *RenderMetrics) Listener() events.Listener {
	return func(event *events.Event) {
		switch data := event.Data.(type) {
		case *events.CacheLoadFinishedData:
			m.CacheLoadedPhrases.Observe(float64(len(data.PhraseKeys)))
		case *events.TrackQueryGenerationFinishedData:
			for _, result := range data.Results {
				m.StageResultsTotal.WithLabelValues("query", resultLabel(result)).Inc()
			}
		case *events.PhraseStageFinishedData:
			m.StageResultsTotal.WithLabelValues(stageLabel(event.Type), resultLabel(data.Result)).Inc()
		default:
			if event.Type == events.TypeRenderingCompleted {
				m.RendersTotal.WithLabelValues("completed").Inc()
			}
		}
	}
}

// EngineObserver returns an engine client observer feeding the call
// metrics.
func (m *RenderMetrics) EngineObserver() func(op string, duration time.Duration, err error) {
	return func(op string, duration time.Duration, err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.EngineCallsTotal.WithLabelValues(op, status).Inc()
		m.EngineCallSeconds.WithLabelValues(op).Observe(duration.Seconds())
	}
}

func resultLabel(r events.StageResult) string {
	if r.Success() {
		return "success"
	}
	return "error"
}

func stageLabel(t events.Type) string {
	switch t {
	case events.TypePitchGenerationFinished:
		return "pitch"
	case events.TypeVolumeGenerationFinished:
		return "volume"
	case events.TypeVoiceSynthesisFinished:
		return "voice"
	default:
		return "unknown"
	}
}
