// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// maxRequestBody caps request payload size. Position reports and vehicle
// management payloads are all small JSON documents.
const maxRequestBody = 64 * 1024

// CreateVehicleRequest is the payload for registering a vehicle.
type CreateVehicleRequest struct {
	Number string `json:"number" validate:"required,min=1,max=32"`
	Route  string `json:"route" validate:"max=64"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive maintenance"`
}

// UpdateVehicleRequest is the payload for a partial vehicle update.
// Empty fields keep their current value.
type UpdateVehicleRequest struct {
	Number string `json:"number" validate:"omitempty,min=1,max=32"`
	Route  string `json:"route" validate:"max=64"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive maintenance"`
}

// decodeJSON decodes a bounded request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// intQueryParam parses an integer query parameter with a default and an
// upper bound.
func intQueryParam(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if v > max {
		v = max
	}
	return v, nil
}
