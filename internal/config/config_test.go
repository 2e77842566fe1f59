// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cantoria.yaml")
	content := `
engines:
  default: http://127.0.0.1:6000
render:
  singing_teacher_style_id: 3000
  first_rest_min_duration_seconds: 0.2
  last_rest_duration_seconds: 1.0
  fade_out_duration_seconds: 0.1
  prioritize_cached_tasks: true
engine:
  request_timeout_seconds: 30
  requests_per_second: 4
server:
  listen_addr: 127.0.0.1:9000
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Render.SingingTeacherStyleID)
	assert.Equal(t, 0.2, cfg.Render.FirstRestMinDurationSeconds)
	assert.Equal(t, 30, cfg.Engine.RequestTimeoutSeconds)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://127.0.0.1:6000", cfg.Engines["default"])
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cantoria.yaml")
	content := `
engines:
  default: http://127.0.0.1:6000
render:
  last_rest_duration_seconds: 0
logging:
  level: shout
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cantoria.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
