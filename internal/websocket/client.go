// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetglass/fleetglass/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // control frames only, 4 KB is generous
)

// controlMessage is what observer sessions send: subscription changes and
// application-level pings.
type controlMessage struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

// Client is the middleman between one WebSocket connection and the hub.
// Its session ID is the identity subscriptions are keyed on.
type Client struct {
	sessionID string
	hub       *Hub
	conn      *websocket.Conn
	send      chan Message
}

// NewClient wraps an upgraded connection in a session.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		sessionID: uuid.New().String(),
		hub:       hub,
		conn:      conn,
		send:      make(chan Message, hub.clientBuffer),
	}
}

// SessionID returns the session identifier assigned at connection time.
func (c *Client) SessionID() string {
	return c.sessionID
}

// readPump consumes control messages from the connection until it fails or
// closes, then hands the session to the hub for teardown. The hub's
// unregister path drops all of this session's subscriptions, so exiting
// readPump for any reason cleans up interest state exactly once.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg controlMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("session_id", c.sessionID).Msg("unexpected websocket close error")
			}
			break
		}

		switch msg.Type {
		case MessageTypeSubscribe:
			if msg.VehicleID == "" {
				continue
			}
			c.hub.subs.Subscribe(c.sessionID, msg.VehicleID)
			logging.Debug().Str("session_id", c.sessionID).Str("vehicle_id", msg.VehicleID).Msg("session subscribed")

		case MessageTypeUnsubscribe:
			if msg.VehicleID == "" {
				continue
			}
			c.hub.subs.Unsubscribe(c.sessionID, msg.VehicleID)
			logging.Debug().Str("session_id", c.sessionID).Str("vehicle_id", msg.VehicleID).Msg("session unsubscribed")

		case MessageTypePing:
			pong := Message{Type: MessageTypePong}
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

// writePump serializes hub messages onto the connection and keeps the
// transport alive with protocol pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
