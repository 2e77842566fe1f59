// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the cantoria.yaml configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	// Engines maps engine id to its base URL.
	Engines map[string]string `yaml:"engines" validate:"min=1,dive,required,url"`

	// Render tunes the pipeline.
	Render RenderConfig `yaml:"render"`

	// Engine tunes the HTTP client.
	Engine EngineConfig `yaml:"engine"`

	// Server configures the render service.
	Server ServerConfig `yaml:"server"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// RenderConfig carries the pipeline knobs.
type RenderConfig struct {
	// SingingTeacherStyleID is the style used for the query, pitch, and
	// volume engine calls.
	SingingTeacherStyleID int `yaml:"singing_teacher_style_id" validate:"gte=0"`

	// FirstRestMinDurationSeconds floors a phrase's leading rest.
	FirstRestMinDurationSeconds float64 `yaml:"first_rest_min_duration_seconds" validate:"gte=0"`

	// LastRestDurationSeconds is the fixed trailing rest.
	LastRestDurationSeconds float64 `yaml:"last_rest_duration_seconds" validate:"gt=0"`

	// FadeOutDurationSeconds is the trailing-pau fade length.
	FadeOutDurationSeconds float64 `yaml:"fade_out_duration_seconds" validate:"gte=0"`

	// PrioritizeCachedTasks enables the runner's cached-first pick.
	PrioritizeCachedTasks bool `yaml:"prioritize_cached_tasks"`
}

// EngineConfig tunes the engine HTTP client.
type EngineConfig struct {
	// RequestTimeoutSeconds bounds each engine call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" validate:"gt=0"`

	// RequestsPerSecond paces engine calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
}

// ServerConfig configures the render service.
type ServerConfig struct {
	// ListenAddr is the gin listen address, e.g. "127.0.0.1:50251".
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables file logging when set.
	Dir string `yaml:"dir"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		Engines: map[string]string{
			"default": "http://127.0.0.1:50121",
		},
		Render: RenderConfig{
			SingingTeacherStyleID:       6000,
			FirstRestMinDurationSeconds: 0.12,
			LastRestDurationSeconds:     0.5,
			FadeOutDurationSeconds:      0.15,
			PrioritizeCachedTasks:       true,
		},
		Engine: EngineConfig{
			RequestTimeoutSeconds: 120,
			RequestsPerSecond:     8,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:50251",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and validates a config file. A missing path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration's structural constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
