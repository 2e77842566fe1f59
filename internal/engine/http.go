// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default HTTP client settings.
const (
	defaultRequestTimeout = 120 * time.Second
	defaultRequestsPerSec = 8
)

// Observer receives the outcome of every engine call. Used to feed metrics
// without coupling the client to a metrics registry.
type Observer func(op string, duration time.Duration, err error)

// HTTPClient talks JSON-over-HTTP to one or more engine processes.
//
// # Description
//
// Each engine id maps to a base URL. Requests are paced with a shared rate
// limiter so a burst of phrase renders cannot overwhelm a local engine.
// Responses are decoded into the plain value types of this package.
//
// # Thread Safety
//
// HTTPClient is safe for concurrent use.
type HTTPClient struct {
	baseURLs map[string]string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	observer Observer
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPTimeout overrides the per-request timeout.
func WithHTTPTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit overrides the requests-per-second pacing.
func WithRateLimit(rps float64) HTTPClientOption {
	return func(c *HTTPClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithObserver installs a call observer.
func WithObserver(o Observer) HTTPClientOption {
	return func(c *HTTPClient) {
		c.observer = o
	}
}

// WithLogger overrides the client's logger.
func WithLogger(l *slog.Logger) HTTPClientOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// NewHTTPClient creates a client for the given engine id to base URL map.
func NewHTTPClient(baseURLs map[string]string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURLs: baseURLs,
		http:     &http.Client{Timeout: defaultRequestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRequestsPerSec), 1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request bodies mirror the engine's wire schema.

type frameAudioQueryRequest struct {
	FrameRate float64 `json:"frame_rate"`
	Notes     []Note  `json:"notes"`
}

type singFrameRequest struct {
	Notes []Note `json:"notes"`
	Query *Query `json:"query"`
}

type frameSynthesisRequest struct {
	Query *Query `json:"query"`
}

type frameSynthesisResponse struct {
	Audio string `json:"audio"` // base64-encoded blob
}

// FetchFrameAudioQuery implements Client.
func (c *HTTPClient) FetchFrameAudioQuery(ctx context.Context, engineID string, styleID int, frameRate float64, notes []Note) (*Query, error) {
	const op = "frame_audio_query"
	var query Query
	body := frameAudioQueryRequest{FrameRate: frameRate, Notes: notes}
	if err := c.post(ctx, op, engineID, styleID, body, &query); err != nil {
		return nil, err
	}
	return &query, nil
}

// FetchSingFrameF0 implements Client.
func (c *HTTPClient) FetchSingFrameF0(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error) {
	const op = "sing_frame_f0"
	var f0 []float64
	body := singFrameRequest{Notes: notes, Query: query}
	if err := c.post(ctx, op, engineID, styleID, body, &f0); err != nil {
		return nil, err
	}
	return f0, nil
}

// FetchSingFrameVolume implements Client.
func (c *HTTPClient) FetchSingFrameVolume(ctx context.Context, engineID string, styleID int, notes []Note, query *Query) ([]float64, error) {
	const op = "sing_frame_volume"
	var volume []float64
	body := singFrameRequest{Notes: notes, Query: query}
	if err := c.post(ctx, op, engineID, styleID, body, &volume); err != nil {
		return nil, err
	}
	return volume, nil
}

// FrameSynthesis implements Client.
func (c *HTTPClient) FrameSynthesis(ctx context.Context, engineID string, styleID int, query *Query) ([]byte, error) {
	const op = "frame_synthesis"
	var resp frameSynthesisResponse
	if err := c.post(ctx, op, engineID, styleID, frameSynthesisRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	blob, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, &EngineError{Kind: ErrorInvalidResponse, Op: op, Err: err}
	}
	return blob, nil
}

// post runs one engine call: rate-limit wait, JSON request, JSON decode.
func (c *HTTPClient) post(ctx context.Context, op, engineID string, styleID int, body, out any) error {
	start := time.Now()
	err := c.doPost(ctx, op, engineID, styleID, body, out)
	if c.observer != nil {
		c.observer(op, time.Since(start), err)
	}
	return err
}

func (c *HTTPClient) doPost(ctx context.Context, op, engineID string, styleID int, body, out any) error {
	base, ok := c.baseURLs[engineID]
	if !ok {
		return &EngineError{Kind: ErrorConnectionFailed, Op: op, Err: fmt.Errorf("unknown engine %q", engineID)}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &EngineError{Kind: ErrorContextCancelled, Op: op, Err: err}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return &EngineError{Kind: ErrorInvalidResponse, Op: op, Err: err}
	}

	endpoint := fmt.Sprintf("%s/%s?style_id=%d", base, op, styleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &EngineError{Kind: ErrorConnectionFailed, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &EngineError{Kind: ErrorContextCancelled, Op: op, Err: err}
		}
		return &EngineError{Kind: ErrorConnectionFailed, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("engine returned error status",
			"op", op,
			"engine_id", engineID,
			"status", resp.StatusCode,
			"body", string(snippet),
		)
		return &EngineError{Kind: ErrorBadStatus, Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &EngineError{Kind: ErrorInvalidResponse, Op: op, Err: err}
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
