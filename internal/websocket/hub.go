// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package websocket pushes live stats updates to attached dashboard
// clients. Delivery is best-effort: a slow or gone client is dropped,
// never waited on, and a missed update is repaired by the next one.
package websocket

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/metrics"
	"github.com/Dharp02/timeharbor/internal/models"
)

// Hub routes updates to clients, keyed by user id. All registration
// state is owned by the hub goroutine; external callers only send on
// channels.
type Hub struct {
	clients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	outbound   chan userMessage
}

type userMessage struct {
	userID  string
	payload []byte
}

// NewHub builds a Hub. Run Serve before attaching clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan userMessage, 64),
	}
}

// Serve runs the hub loop until ctx is canceled. Satisfies
// suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.register:
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			metrics.WebsocketConnections.Inc()
			logging.Debug().Str("user_id", c.userID).Msg("Live client attached")

		case c := <-h.unregister:
			if set, ok := h.clients[c.userID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(h.clients, c.userID)
					}
					metrics.WebsocketConnections.Dec()
					logging.Debug().Str("user_id", c.userID).Msg("Live client detached")
				}
			}

		case msg := <-h.outbound:
			for c := range h.clients[msg.userID] {
				select {
				case c.send <- msg.payload:
				default:
					// Client can't keep up; drop it rather than block
					// everyone else.
					delete(h.clients[msg.userID], c)
					close(c.send)
					metrics.WebsocketConnections.Dec()
				}
			}
		}
	}
}

// SendToUser pushes a stats update to all of the user's attached
// clients. Never blocks; drops the update if the hub is saturated.
func (h *Hub) SendToUser(userID string, update models.StatsUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		logging.Error().Err(err).Msg("Marshaling stats update failed")
		return
	}
	select {
	case h.outbound <- userMessage{userID: userID, payload: payload}:
	default:
		logging.Warn().Str("user_id", userID).Msg("Hub saturated, update dropped")
	}
}

func (h *Hub) closeAll() {
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
		metrics.WebsocketConnections.Set(0)
	}
}
