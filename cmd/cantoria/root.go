// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cantoria/cantoria/internal/config"
	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/observability"
	"github.com/cantoria/cantoria/internal/pipeline"
	"github.com/cantoria/cantoria/internal/render"
	"github.com/cantoria/cantoria/pkg/logging"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cantoria",
	Short: "Incremental phrase renderer for the Cantoria singing-voice editor",
	Long: `cantoria renders the audio artifacts of a multi-track score through a
local synthesis engine: per-phrase engine queries, f0 curves, volume
envelopes, and voice blobs, with content-addressed caching so unchanged
phrases are never recomputed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to cantoria.yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(renderCmd, watchCmd, serveCmd)
}

// appContext bundles everything a command needs.
type appContext struct {
	cfg      config.Config
	logger   *logging.Logger
	renderer *render.Renderer
	metrics  *observability.RenderMetrics
}

// buildApp loads the config and wires the renderer stack.
func buildApp() (*appContext, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if flagVerbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "cli",
	})

	metrics := observability.NewRenderMetrics(prometheus.DefaultRegisterer)

	client := engine.NewHTTPClient(cfg.Engines,
		engine.WithHTTPTimeout(time.Duration(cfg.Engine.RequestTimeoutSeconds)*time.Second),
		engine.WithRateLimit(cfg.Engine.RequestsPerSecond),
		engine.WithObserver(metrics.EngineObserver()),
		engine.WithLogger(logger.Slog()),
	)

	renderer := render.New(client, render.Options{
		Pipeline: pipeline.Options{
			SingingTeacherStyleID:       cfg.Render.SingingTeacherStyleID,
			FirstRestMinDurationSeconds: cfg.Render.FirstRestMinDurationSeconds,
			LastRestDurationSeconds:     cfg.Render.LastRestDurationSeconds,
			FadeOutDurationSeconds:      cfg.Render.FadeOutDurationSeconds,
		},
		PrioritizeCachedTasks: cfg.Render.PrioritizeCachedTasks,
		Logger:                logger.Slog(),
	})

	if err := renderer.Events().Subscribe("metrics", metrics.Listener()); err != nil {
		return nil, err
	}

	return &appContext{
		cfg:      cfg,
		logger:   logger,
		renderer: renderer,
		metrics:  metrics,
	}, nil
}
