// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cantoria/cantoria/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The service binds to loopback; UI clients connect locally.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 65536,
}

// wsClient is one connected websocket subscriber with a buffered send
// queue. A client that cannot keep up is dropped rather than stalling the
// render loop.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan events.Event
}

// wsHub fans the render event stream out to websocket clients.
//
// Thread Safety: wsHub is safe for concurrent use.
type wsHub struct {
	mu      sync.Mutex
	clients map[string]*wsClient
	logger  *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients: make(map[string]*wsClient),
		logger:  logger,
	}
}

// listener returns the render event listener that broadcasts to clients.
func (h *wsHub) listener() events.Listener {
	return func(event *events.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, client := range h.clients {
			select {
			case client.send <- *event:
			default:
				h.logger.Warn("websocket client lagging, dropping", "client_id", id)
				close(client.send)
				delete(h.clients, id)
			}
		}
	}
}

// serve upgrades the request and pumps events until the client leaves.
func (h *wsHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan events.Event, 256),
	}
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.logger.Info("websocket client connected", "client_id", client.id)

	go h.writePump(client)
	h.readPump(client)
}

// writePump sends queued events as JSON.
func (h *wsHub) writePump(client *wsClient) {
	for event := range client.send {
		if err := client.conn.WriteJSON(event); err != nil {
			h.logger.Warn("websocket write failed", "client_id", client.id, "error", err)
			h.remove(client.id)
			return
		}
	}
	_ = client.conn.Close()
}

// readPump discards client frames and detects disconnects.
func (h *wsHub) readPump(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.logger.Info("websocket client disconnected", "client_id", client.id)
			h.remove(client.id)
			return
		}
	}
}

func (h *wsHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(client.send)
		_ = client.conn.Close()
	}
}
