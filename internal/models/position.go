// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package models

import "time"

// Position represents one observed location of one vehicle at one instant.
//
// A Position is immutable once created. The tracker never mutates a stored
// Position; a newer report supersedes it as the vehicle's current state.
//
// ObservedAt is assigned by the server at ingestion time. Device clocks are
// not trusted for ordering decisions, so the client-submitted time (if any)
// is discarded at the ingestion boundary.
type Position struct {
	// VehicleID is the stable identifier of the tracked vehicle.
	VehicleID string `json:"vehicle_id"`

	// Latitude in degrees, range [-90, 90].
	Latitude float64 `json:"latitude"`

	// Longitude in degrees, range [-180, 180].
	Longitude float64 `json:"longitude"`

	// Speed in km/h, never negative. Defaults to 0 when the device omits it.
	Speed float64 `json:"speed"`

	// ObservedAt is the server-assigned ingestion timestamp (UTC).
	ObservedAt time.Time `json:"observed_at"`
}

// Before reports whether p was observed before other.
// Equal timestamps are not "before": a report carrying the same ObservedAt
// as the stored current state still supersedes it.
func (p Position) Before(other Position) bool {
	return p.ObservedAt.Before(other.ObservedAt)
}
