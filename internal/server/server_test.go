// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantoria/cantoria/internal/engine"
	"github.com/cantoria/cantoria/internal/render"
)

const sampleProject = `
tpqn: 480
tempos:
  - position: 0
    bpm: 120
editor_frame_rate: 93.75
engine_frame_rates:
  default: 93.75
tracks:
  - id: lead
    singer:
      engine_id: default
      style_id: 42
    notes:
      - id: n1
        position: 480
        duration: 480
        note_number: 60
        lyric: ど
`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := render.DefaultOptions()
	opts.Logger = logger
	renderer := render.New(engine.NewMockClient(), opts)

	srv, err := New(renderer, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestServer_Healthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_RenderAndPhrases(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/render", "application/yaml", strings.NewReader(sampleProject))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The render runs in the background; poll briefly for the result.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/phrases")
		require.NoError(t, err)
		var body struct {
			Outcome string `json:"outcome"`
			Phrases []struct {
				Key      string `json:"key"`
				Complete bool   `json:"complete"`
			} `json:"phrases"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		if len(body.Phrases) > 0 {
			assert.Equal(t, "complete", body.Outcome)
			assert.True(t, body.Phrases[0].Complete)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("render did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_RenderRejectsBadProject(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/render", "application/yaml", strings.NewReader("tpqn: 0"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_InterruptWhileIdle(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/interrupt", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
