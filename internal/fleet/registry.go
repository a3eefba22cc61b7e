// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package fleet maintains the registry of tracked vehicles. The registry
// owns vehicle identity: IDs are assigned at creation and referenced by
// every Position record and subscription afterwards.
package fleet

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetglass/fleetglass/internal/models"
)

// Registry errors.
var (
	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrDuplicateNumber = errors.New("vehicle number already registered")
	ErrInvalidStatus   = errors.New("invalid vehicle status")
)

// Registry is an in-memory vehicle registry safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]models.Vehicle
	byNumber map[string]string // fleet number -> vehicle ID
}

// NewRegistry creates an empty vehicle registry.
func NewRegistry() *Registry {
	return &Registry{
		vehicles: make(map[string]models.Vehicle),
		byNumber: make(map[string]string),
	}
}

// Create registers a new vehicle and assigns its ID. The fleet number must
// be unique. An empty status defaults to active; the registry never stores
// a status outside the known set, regardless of caller.
func (r *Registry) Create(number, route string, status models.VehicleStatus) (models.Vehicle, error) {
	if status == "" {
		status = models.VehicleStatusActive
	}
	if !status.Valid() {
		return models.Vehicle{}, ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNumber[number]; exists {
		return models.Vehicle{}, ErrDuplicateNumber
	}

	now := time.Now().UTC()
	v := models.Vehicle{
		ID:        uuid.New().String(),
		Number:    number,
		Route:     route,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.vehicles[v.ID] = v
	r.byNumber[v.Number] = v.ID
	return v, nil
}

// Get returns the vehicle with the given ID.
func (r *Registry) Get(id string) (models.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	return v, nil
}

// GetByNumber returns the vehicle with the given fleet number.
func (r *Registry) GetByNumber(number string) (models.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[number]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	return r.vehicles[id], nil
}

// Exists reports whether a vehicle with the given ID is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vehicles[id]
	return ok
}

// List returns all vehicles sorted by fleet number.
func (r *Registry) List() []models.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Update applies a partial update to a vehicle. Empty fields keep their
// current value. Changing the number to one held by another vehicle fails
// with ErrDuplicateNumber.
func (r *Registry) Update(id string, number, route string, status models.VehicleStatus) (models.Vehicle, error) {
	if status != "" && !status.Valid() {
		return models.Vehicle{}, ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}

	if number != "" && number != v.Number {
		if _, taken := r.byNumber[number]; taken {
			return models.Vehicle{}, ErrDuplicateNumber
		}
		delete(r.byNumber, v.Number)
		v.Number = number
		r.byNumber[number] = id
	}
	if route != "" {
		v.Route = route
	}
	if status != "" {
		v.Status = status
	}
	v.UpdatedAt = time.Now().UTC()

	r.vehicles[id] = v
	return v, nil
}

// Delete removes a vehicle from the registry.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vehicles[id]
	if !ok {
		return ErrVehicleNotFound
	}
	delete(r.vehicles, id)
	delete(r.byNumber, v.Number)
	return nil
}

// Count returns the number of registered vehicles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}
