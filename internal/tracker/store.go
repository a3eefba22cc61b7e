// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package tracker holds per-vehicle current state and bounded recent
// history, reconciling out-of-order position reports.
//
// Concurrency model: updates to one vehicle are serialized by a per-vehicle
// mutex; updates to distinct vehicles proceed fully in parallel. No lock is
// ever held across vehicles, and the only global lock guards the state map
// itself for the instant it takes to find or create an entry.
//
// Reconciliation policy: within one vehicle's serialized stream, a report
// observed earlier than the stored current position does not overwrite
// current state (current views must never regress), but it is still
// appended to the history log and broadcast flagged as stale. History is a
// faithful record of everything received; current state is monotonic.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fleetglass/fleetglass/internal/models"
)

// ErrStorage marks a durable log failure. The update was not applied at
// all: neither current state nor history changed, and nothing was
// broadcast.
var ErrStorage = errors.New("location log write failed")

// ApplyResult reports what became of one position report.
type ApplyResult struct {
	// Applied is true when the report was promoted to current state.
	Applied bool

	// Stale is true when the report was older than the stored current
	// state: recorded in history, not promoted.
	Stale bool

	// Position is the record as stored (server-assigned timestamp).
	Position models.Position
}

// Publisher receives every recorded position for fan-out. Publish is
// invoked inside the per-vehicle critical section, which is what gives
// subscribers per-vehicle ordering; implementations must therefore never
// block (the hub performs one non-blocking channel send per subscriber).
type Publisher interface {
	Publish(pos models.Position, stale bool)
}

// Appender durably records every accepted position. Append is called
// before any in-memory mutation so that an update is either fully applied
// (log + history + state) or not applied at all.
type Appender interface {
	Append(ctx context.Context, pos models.Position) error
}

// Store is the entity state store. Safe for concurrent use.
type Store struct {
	historyLimit int
	log          Appender  // optional durable log, may be nil
	pub          Publisher // optional broadcaster, may be nil

	mu     sync.RWMutex
	states map[string]*vehicleState
}

// vehicleState is one vehicle's current position and history ring.
// All fields are guarded by mu.
type vehicleState struct {
	mu      sync.Mutex
	has     bool
	current models.Position
	ring    []models.Position
	next    int // next write slot in ring
	size    int // occupied slots
}

// NewStore creates a Store with the given per-vehicle history bound.
// log and pub may be nil to disable durable logging and broadcast.
func NewStore(historyLimit int, log Appender, pub Publisher) *Store {
	if historyLimit < 1 {
		historyLimit = 1
	}
	return &Store{
		historyLimit: historyLimit,
		log:          log,
		pub:          pub,
		states:       make(map[string]*vehicleState),
	}
}

// state finds or creates the per-vehicle entry.
func (s *Store) state(vehicleID string) *vehicleState {
	s.mu.RLock()
	st, ok := s.states[vehicleID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[vehicleID]; ok {
		return st
	}
	st = &vehicleState{ring: make([]models.Position, s.historyLimit)}
	s.states[vehicleID] = st
	return st
}

// ApplyUpdate records one position report for its vehicle.
//
// Inside the per-vehicle critical section it, in order: appends to the
// durable log (aborting on failure), appends to the history ring, promotes
// the report to current state unless stale, and hands the record to the
// Publisher. Running the publish step under the same serialization as the
// state mutation is what guarantees that broadcasts for one vehicle leave
// in apply order.
func (s *Store) ApplyUpdate(ctx context.Context, pos models.Position) (ApplyResult, error) {
	st := s.state(pos.VehicleID)

	st.mu.Lock()
	defer st.mu.Unlock()

	stale := st.has && pos.Before(st.current)

	if s.log != nil {
		if err := s.log.Append(ctx, pos); err != nil {
			return ApplyResult{}, fmt.Errorf("%w: %s", ErrStorage, err)
		}
	}

	st.ring[st.next] = pos
	st.next = (st.next + 1) % len(st.ring)
	if st.size < len(st.ring) {
		st.size++
	}

	if !stale {
		st.current = pos
		st.has = true
	}

	if s.pub != nil {
		s.pub.Publish(pos, stale)
	}

	return ApplyResult{Applied: !stale, Stale: stale, Position: pos}, nil
}

// Current returns the latest reconciled position for a vehicle.
// The second return value is false when the vehicle has never reported.
func (s *Store) Current(vehicleID string) (models.Position, bool) {
	s.mu.RLock()
	st, ok := s.states[vehicleID]
	s.mu.RUnlock()
	if !ok {
		return models.Position{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current, st.has
}

// History returns up to limit records for a vehicle, newest first. The
// returned slice is a copy; concurrent writes never mutate it.
func (s *Store) History(vehicleID string, limit int) []models.Position {
	if limit < 1 {
		return nil
	}

	s.mu.RLock()
	st, ok := s.states[vehicleID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	n := st.size
	if limit < n {
		n = limit
	}
	out := make([]models.Position, n)
	for i := 0; i < n; i++ {
		// walk backwards from the most recent write, wrapping
		idx := (st.next - 1 - i + len(st.ring)*2) % len(st.ring)
		out[i] = st.ring[idx]
	}
	return out
}

// Snapshot returns the current position of every vehicle that has
// reported at least once.
func (s *Store) Snapshot() map[string]models.Position {
	s.mu.RLock()
	states := make(map[string]*vehicleState, len(s.states))
	for id, st := range s.states {
		states[id] = st
	}
	s.mu.RUnlock()

	out := make(map[string]models.Position, len(states))
	for id, st := range states {
		st.mu.Lock()
		if st.has {
			out[id] = st.current
		}
		st.mu.Unlock()
	}
	return out
}

// Forget drops all tracking state for a vehicle. Called when a vehicle is
// removed from the registry.
func (s *Store) Forget(vehicleID string) {
	s.mu.Lock()
	delete(s.states, vehicleID)
	s.mu.Unlock()
}

// HistoryLimit returns the configured per-vehicle history bound.
func (s *Store) HistoryLimit() int {
	return s.historyLimit
}
