// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package subscription maintains the many-to-many mapping between live
// observer sessions and the vehicles they watch. It is pure data: the
// registry knows nothing about transports, which keeps it unit-testable
// without a live connection and lets the broadcaster deliver without
// holding any registry lock.
package subscription

import (
	"sync"

	"github.com/fleetglass/fleetglass/internal/metrics"
)

// Registry tracks which sessions watch which vehicles. Safe for
// concurrent use from arbitrarily many sessions.
type Registry struct {
	mu        sync.RWMutex
	byVehicle map[string]map[string]struct{} // vehicleID -> sessionIDs
	bySession map[string]map[string]struct{} // sessionID -> vehicleIDs
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		byVehicle: make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Subscribe registers a session's interest in a vehicle. Idempotent:
// subscribing twice has no additional effect.
func (r *Registry) Subscribe(sessionID, vehicleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byVehicle[vehicleID]; !ok {
		r.byVehicle[vehicleID] = make(map[string]struct{})
	}
	if _, ok := r.bySession[sessionID]; !ok {
		r.bySession[sessionID] = make(map[string]struct{})
	}
	if _, dup := r.byVehicle[vehicleID][sessionID]; dup {
		return
	}
	r.byVehicle[vehicleID][sessionID] = struct{}{}
	r.bySession[sessionID][vehicleID] = struct{}{}
	metrics.Subscriptions.Inc()
}

// Unsubscribe removes a session's interest in a vehicle. Unsubscribing
// when not subscribed is a no-op, not an error.
func (r *Registry) Unsubscribe(sessionID, vehicleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(sessionID, vehicleID)
}

// remove deletes one edge. Caller holds mu.
func (r *Registry) remove(sessionID, vehicleID string) {
	sessions, ok := r.byVehicle[vehicleID]
	if !ok {
		return
	}
	if _, subscribed := sessions[sessionID]; !subscribed {
		return
	}

	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.byVehicle, vehicleID)
	}

	if vehicles, ok := r.bySession[sessionID]; ok {
		delete(vehicles, vehicleID)
		if len(vehicles) == 0 {
			delete(r.bySession, sessionID)
		}
	}
	metrics.Subscriptions.Dec()
}

// DropSession removes every subscription held by a session in one atomic
// step. Invoked on session termination; calling it again for the same
// session is a safe no-op.
func (r *Registry) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vehicles, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	for vehicleID := range vehicles {
		sessions := r.byVehicle[vehicleID]
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.byVehicle, vehicleID)
		}
		metrics.Subscriptions.Dec()
	}
	delete(r.bySession, sessionID)
}

// SubscribersOf returns a point-in-time snapshot of the sessions
// subscribed to a vehicle. The snapshot is a fresh slice: callers iterate
// and deliver without holding any registry lock, so delivery never blocks
// registry mutation and mutation never waits on slow deliveries.
func (r *Registry) SubscribersOf(vehicleID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions, ok := r.byVehicle[vehicleID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(sessions))
	for sessionID := range sessions {
		out = append(out, sessionID)
	}
	return out
}

// VehiclesOf returns a snapshot of the vehicles a session watches.
func (r *Registry) VehiclesOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vehicles, ok := r.bySession[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(vehicles))
	for vehicleID := range vehicles {
		out = append(out, vehicleID)
	}
	return out
}

// SessionCount returns the number of sessions holding at least one
// subscription.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}
