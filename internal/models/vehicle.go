// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package models

import "time"

// VehicleStatus describes the operational state of a vehicle.
type VehicleStatus string

// Valid vehicle statuses.
const (
	VehicleStatusActive      VehicleStatus = "active"
	VehicleStatusInactive    VehicleStatus = "inactive"
	VehicleStatusMaintenance VehicleStatus = "maintenance"
)

// Valid reports whether s is a known vehicle status.
func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleStatusActive, VehicleStatusInactive, VehicleStatusMaintenance:
		return true
	}
	return false
}

// Vehicle is a tracked fleet vehicle. The registry owns the record; the
// ID is assigned at creation and never changes afterwards.
type Vehicle struct {
	// ID is the stable entity identifier referenced by Position records
	// and subscriptions.
	ID string `json:"id"`

	// Number is the human-facing fleet number painted on the vehicle.
	// Unique across the fleet.
	Number string `json:"number"`

	// Route is a free-form route description.
	Route string `json:"route"`

	Status VehicleStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VehicleState pairs a vehicle with its latest reconciled position for
// list/detail query responses. Latest is nil when the vehicle has never
// reported.
type VehicleState struct {
	Vehicle  Vehicle   `json:"vehicle"`
	Latest   *Position `json:"latest"`
	Reported bool      `json:"reported"`
}
