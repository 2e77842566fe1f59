// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the renderer over HTTP: render trigger and
// interruption, phrase inspection, a websocket event stream for UI
// clients, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cantoria/cantoria/internal/phrase"
	"github.com/cantoria/cantoria/internal/project"
	"github.com/cantoria/cantoria/internal/render"
)

// Server wires the renderer into a gin router.
type Server struct {
	renderer *render.Renderer
	logger   *slog.Logger
	hub      *wsHub

	mu         sync.RWMutex
	lastResult *render.Result
}

// New creates a Server and subscribes its websocket hub to the renderer's
// event stream.
func New(renderer *render.Renderer, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		renderer: renderer,
		logger:   logger,
		hub:      newWSHub(logger),
	}
	if err := renderer.Events().Subscribe("server-ws-hub", s.hub.listener()); err != nil {
		return nil, err
	}
	return s, nil
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/render", s.handleRender)
	router.POST("/interrupt", s.handleInterrupt)
	router.GET("/phrases", s.handlePhrases)
	router.GET("/ws", s.handleWebSocket)
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"rendering": s.renderer.IsRendering(),
	})
}

// handleRender accepts a project yaml body and starts a render in the
// background. The event stream carries progress; the final phrase map is
// available from /phrases afterwards.
func (s *Server) handleRender(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := project.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.renderer.IsRendering() {
		c.JSON(http.StatusConflict, gin.H{"error": render.ErrAlreadyRendering.Error()})
		return
	}

	// Detached from the request context: the render outlives the 202.
	go func() {
		result, err := s.renderer.Render(context.Background(), snap)
		if err != nil {
			if errors.Is(err, render.ErrAlreadyRendering) {
				return
			}
			s.logger.Error("render failed", "error", err)
			return
		}
		s.mu.Lock()
		s.lastResult = result
		s.mu.Unlock()
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handleInterrupt(c *gin.Context) {
	if err := s.renderer.RequestInterruption(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "interruption requested"})
}

// phraseSummary is the /phrases wire form.
type phraseSummary struct {
	Key       phrase.Key `json:"key"`
	TrackID   string     `json:"track_id"`
	StartTime float64    `json:"start_time"`
	NoteCount int        `json:"note_count"`
	Complete  bool       `json:"complete"`
	Error     bool       `json:"error"`
}

func (s *Server) handlePhrases(c *gin.Context) {
	s.mu.RLock()
	result := s.lastResult
	s.mu.RUnlock()

	if result == nil {
		c.JSON(http.StatusOK, gin.H{"phrases": []phraseSummary{}})
		return
	}

	summaries := make([]phraseSummary, 0, len(result.Phrases))
	for _, p := range result.Phrases {
		summaries = append(summaries, phraseSummary{
			Key:       p.Key,
			TrackID:   p.TrackID,
			StartTime: p.StartTime,
			NoteCount: len(p.Notes),
			Complete:  p.Complete(),
			Error:     p.ErrorOccurredDuringRendering,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": result.Outcome,
		"phrases": summaries,
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.hub.serve(c.Writer, c.Request)
}
