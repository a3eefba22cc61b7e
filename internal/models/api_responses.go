// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package models

// IngestResult is the ingestion boundary response payload. It tells the
// device whether the report was promoted to current state or recorded as
// stale history.
type IngestResult struct {
	Applied  bool     `json:"applied"`
	Stale    bool     `json:"stale"`
	Position Position `json:"position"`
}
