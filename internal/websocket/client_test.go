// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetglass/fleetglass/internal/subscription"
)

// liveSession serves a real upgrade endpoint wired the way the HTTP
// handler wires it (upgrade, register with the hub, start the pumps) and
// dials it, returning the observer side of the connection.
func liveSession(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		client := NewClient(h, conn)
		h.Register <- client
		client.Start()
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// pushFrame decodes outbound frames with a typed payload.
type pushFrame struct {
	Type string         `json:"type"`
	Data LocationUpdate `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) pushFrame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var frame pushFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func subscribeAndWait(t *testing.T, conn *websocket.Conn, subs *subscription.Registry, vehicleID string) {
	t.Helper()
	if err := conn.WriteJSON(controlMessage{Type: MessageTypeSubscribe, VehicleID: vehicleID}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	waitFor(t, func() bool { return len(subs.SubscribersOf(vehicleID)) == 1 }, "subscription not recorded")
}

func TestNewClientSession(t *testing.T) {
	subs := subscription.NewRegistry()
	h := NewHub(subs, 32)

	client := NewClient(h, nil)
	if client.SessionID() == "" {
		t.Error("NewClient did not assign a session ID")
	}
	if cap(client.send) != 32 {
		t.Errorf("send buffer = %d, want the hub's client buffer 32", cap(client.send))
	}
}

func TestClientConstants(t *testing.T) {
	if writeWait != 10*time.Second {
		t.Errorf("writeWait = %v", writeWait)
	}
	if pongWait != 60*time.Second {
		t.Errorf("pongWait = %v", pongWait)
	}
	if pingPeriod != (pongWait*9)/10 {
		t.Errorf("pingPeriod = %v, want nine tenths of pongWait", pingPeriod)
	}
}

func TestClientSubscribeReceivesPush(t *testing.T) {
	subs := subscription.NewRegistry()
	h := NewHub(subs, 8)
	startHub(t, h)

	conn := liveSession(t, h)
	waitFor(t, func() bool { return h.SessionCount() == 1 }, "session not registered")

	subscribeAndWait(t, conn, subs, "bus-1")

	h.Publish(testPosition("bus-1"), false)

	frame := readFrame(t, conn)
	if frame.Type != MessageTypeLocationUpdate {
		t.Errorf("frame type = %q, want %q", frame.Type, MessageTypeLocationUpdate)
	}
	if frame.Data.VehicleID != "bus-1" {
		t.Errorf("vehicle_id = %q, want bus-1", frame.Data.VehicleID)
	}
	if frame.Data.Stale {
		t.Error("fresh update should not carry the stale flag")
	}
}

func TestClientUnsubscribeStopsPush(t *testing.T) {
	subs := subscription.NewRegistry()
	h := NewHub(subs, 8)
	startHub(t, h)

	conn := liveSession(t, h)
	waitFor(t, func() bool { return h.SessionCount() == 1 }, "session not registered")

	subscribeAndWait(t, conn, subs, "bus-1")
	if err := conn.WriteJSON(controlMessage{Type: MessageTypeUnsubscribe, VehicleID: "bus-1"}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	waitFor(t, func() bool { return len(subs.SubscribersOf("bus-1")) == 0 }, "subscription not removed")

	h.Publish(testPosition("bus-1"), false)

	if err := conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var frame pushFrame
	if err := conn.ReadJSON(&frame); err == nil {
		t.Errorf("received %+v after unsubscribe", frame)
	}
}

func TestClientPingPong(t *testing.T) {
	subs := subscription.NewRegistry()
	h := NewHub(subs, 8)
	startHub(t, h)

	conn := liveSession(t, h)
	waitFor(t, func() bool { return h.SessionCount() == 1 }, "session not registered")

	if err := conn.WriteJSON(controlMessage{Type: MessageTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != MessageTypePong {
		t.Errorf("frame type = %q, want %q", frame.Type, MessageTypePong)
	}
}

func TestClientIgnoresEmptyVehicleID(t *testing.T) {
	subs := subscription.NewRegistry()
	h := NewHub(subs, 8)
	startHub(t, h)

	conn := liveSession(t, h)
	waitFor(t, func() bool { return h.SessionCount() == 1 }, "session not registered")

	if err := conn.WriteJSON(controlMessage{Type: MessageTypeSubscribe}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// A pong proves the read loop survived the malformed subscribe and no
	// subscription was created for the empty vehicle ID.
	if err := conn.WriteJSON(controlMessage{Type: MessageTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != MessageTypePong {
		t.Errorf("frame type = %q, want %q", frame.Type, MessageTypePong)
	}
	if got := subs.SubscribersOf(""); len(got) != 0 {
		t.Errorf("empty vehicle ID gained subscribers: %v", got)
	}
}

func TestClientDisconnectDropsSessionAndSubscriptions(t *testing.T) {
	subs := subscription.NewRegistry()
	h := NewHub(subs, 8)
	startHub(t, h)

	conn := liveSession(t, h)
	waitFor(t, func() bool { return h.SessionCount() == 1 }, "session not registered")

	subscribeAndWait(t, conn, subs, "bus-1")
	subscribeAndWait(t, conn, subs, "bus-2")

	// Closing the connection must run the full teardown: readPump exits,
	// the hub unregisters the session, and every subscription is dropped.
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	waitFor(t, func() bool { return h.SessionCount() == 0 }, "session survived disconnect")
	waitFor(t, func() bool {
		return len(subs.SubscribersOf("bus-1")) == 0 && len(subs.SubscribersOf("bus-2")) == 0
	}, "subscriptions leaked after disconnect")
}

func TestClientAbnormalCloseDropsSession(t *testing.T) {
	subs := subscription.NewRegistry()
	h := NewHub(subs, 8)
	startHub(t, h)

	conn := liveSession(t, h)
	waitFor(t, func() bool { return h.SessionCount() == 1 }, "session not registered")
	subscribeAndWait(t, conn, subs, "bus-1")

	// An abnormal close status takes the same teardown path as a clean one.
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseAbnormalClosure, "device reset"), deadline)
	_ = conn.Close()

	waitFor(t, func() bool { return h.SessionCount() == 0 }, "session survived abnormal close")
	waitFor(t, func() bool { return len(subs.SubscribersOf("bus-1")) == 0 },
		"subscriptions leaked after abnormal close")
}
