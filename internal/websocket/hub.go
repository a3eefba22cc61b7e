// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package websocket delivers position updates to subscribed observer
// sessions over WebSocket connections.
//
// The hub separates "who is interested" from "how delivery happens": the
// subscription registry owns interest, the hub owns live sessions and
// per-session delivery channels. Delivery is fire-and-forget: a slow or
// dead subscriber loses its newest messages, it never stalls ingestion or
// other subscribers.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fleetglass/fleetglass/internal/logging"
	"github.com/fleetglass/fleetglass/internal/metrics"
	"github.com/fleetglass/fleetglass/internal/models"
	"github.com/fleetglass/fleetglass/internal/subscription"
)

// Message types for WebSocket communication.
const (
	MessageTypeLocationUpdate = "location_update"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeUnsubscribe    = "unsubscribe"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// Message is one WebSocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// LocationUpdate is the payload of a location_update push.
type LocationUpdate struct {
	VehicleID  string    `json:"vehicle_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Speed      float64   `json:"speed"`
	ObservedAt time.Time `json:"observed_at"`

	// Stale marks a report that was recorded but not promoted to current
	// state, for diagnostic consumers.
	Stale bool `json:"stale,omitempty"`
}

// Hub maintains the set of live observer sessions and fans position
// updates out to them.
type Hub struct {
	subs         *subscription.Registry
	clientBuffer int

	Register   chan *Client
	Unregister chan *Client

	mu       sync.RWMutex
	sessions map[string]*Client
}

// NewHub creates a Hub delivering to sessions registered in subs.
// clientBuffer is the per-subscriber outstanding-message allowance.
func NewHub(subs *subscription.Registry, clientBuffer int) *Hub {
	if clientBuffer < 1 {
		clientBuffer = 256
	}
	return &Hub{
		subs:         subs,
		clientBuffer: clientBuffer,
		Register:     make(chan *Client),
		Unregister:   make(chan *Client),
		sessions:     make(map[string]*Client),
	}
}

// RunWithContext processes session lifecycle events until the context is
// canceled, then closes all connected sessions and returns ctx.Err().
// Designed for suture supervision: a restart begins with a clean session
// set and no orphaned subscriptions.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Check for shutdown first so a canceled context always wins over
		// pending lifecycle events.
		select {
		case <-ctx.Done():
			h.closeAllSessions()
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllSessions()
			return ctx.Err()

		case client := <-h.Register:
			h.register(client)

		case client := <-h.Unregister:
			h.unregister(client)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.sessions[client.sessionID] = client
	total := len(h.sessions)
	h.mu.Unlock()

	metrics.WebSocketSessions.Set(float64(total))
	logging.Info().Str("session_id", client.sessionID).Int("total_sessions", total).Msg("websocket session connected")
}

// unregister removes a session and atomically drops all its
// subscriptions. Every disconnect path (clean close, read error, write
// error, shutdown) funnels through here exactly once, so no subscription
// can outlive its session.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.sessions[client.sessionID]
	if ok {
		delete(h.sessions, client.sessionID)
		close(client.send)
	}
	total := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.subs.DropSession(client.sessionID)
	metrics.WebSocketSessions.Set(float64(total))
	logging.Info().Str("session_id", client.sessionID).Int("total_sessions", total).Msg("websocket session disconnected")
}

// closeAllSessions closes every connected session during shutdown, in
// session ID order for consistent shutdown behavior.
func (h *Hub) closeAllSessions() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		close(h.sessions[id].send)
		h.subs.DropSession(id)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	metrics.WebSocketSessions.Set(0)
	logging.Info().Int("sessions_closed", len(ids)).Msg("websocket hub stopped")
}

// Publish implements tracker.Publisher. It snapshots the vehicle's
// subscribers from the registry and performs one non-blocking send per
// subscriber. A full subscriber buffer drops this update for that
// subscriber only; nothing here ever blocks the caller.
func (h *Hub) Publish(pos models.Position, stale bool) {
	ids := h.subs.SubscribersOf(pos.VehicleID)
	if len(ids) == 0 {
		return
	}
	// Deliver in session ID order so repeated runs behave identically.
	sort.Strings(ids)

	msg := Message{
		Type: MessageTypeLocationUpdate,
		Data: LocationUpdate{
			VehicleID:  pos.VehicleID,
			Latitude:   pos.Latitude,
			Longitude:  pos.Longitude,
			Speed:      pos.Speed,
			ObservedAt: pos.ObservedAt,
			Stale:      stale,
		},
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range ids {
		client, ok := h.sessions[id]
		if !ok {
			// Session dropped between the registry snapshot and now.
			continue
		}
		select {
		case client.send <- msg:
			metrics.BroadcastDeliveries.Inc()
		default:
			metrics.BroadcastDropped.Inc()
			logging.Warn().Str("session_id", id).Str("vehicle_id", pos.VehicleID).Msg("subscriber buffer full, dropping update")
		}
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
