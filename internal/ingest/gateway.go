// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package ingest is the single entry point for device position reports.
// Every report is authenticated, validated, stamped with a server-side
// observation time, and handed to the tracker. Nothing reaches tracking
// state except through here.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"math"
	"time"

	"github.com/fleetglass/fleetglass/internal/fleet"
	"github.com/fleetglass/fleetglass/internal/logging"
	"github.com/fleetglass/fleetglass/internal/metrics"
	"github.com/fleetglass/fleetglass/internal/models"
	"github.com/fleetglass/fleetglass/internal/tracker"
	"github.com/fleetglass/fleetglass/internal/validation"
)

// Gateway errors. Callers map these to transport-level responses.
var (
	ErrUnauthorized    = errors.New("invalid device credentials")
	ErrVehicleNotFound = errors.New("unknown vehicle")
	ErrInvalidReport   = errors.New("invalid position report")
)

// DeviceReport is the payload a tracking device submits. Coordinates are
// pointers so an omitted field is distinguishable from a legitimate zero
// reading; speed defaults to 0 when absent.
type DeviceReport struct {
	VehicleID string   `json:"vehicle_id" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Speed     float64  `json:"speed" validate:"gte=0"`
}

// Gateway authenticates and validates device reports before they enter
// the tracker.
type Gateway struct {
	apiKey []byte
	fleet  *fleet.Registry
	store  *tracker.Store
}

// NewGateway creates a Gateway. apiKey is the shared device secret.
func NewGateway(apiKey string, reg *fleet.Registry, store *tracker.Store) *Gateway {
	return &Gateway{
		apiKey: []byte(apiKey),
		fleet:  reg,
		store:  store,
	}
}

// Authorize checks a presented device key against the shared secret in
// constant time. An empty configured secret rejects all devices rather
// than accepting all of them.
func (g *Gateway) Authorize(key string) error {
	if len(g.apiKey) == 0 {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(g.apiKey, []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Ingest processes one device report end to end: authentication,
// validation, vehicle resolution, timestamp assignment, and tracker
// application. The observation time is always assigned server-side at
// ingestion so devices with skewed clocks cannot reorder the stream.
func (g *Gateway) Ingest(ctx context.Context, key string, report DeviceReport) (tracker.ApplyResult, error) {
	start := time.Now()

	if err := g.Authorize(key); err != nil {
		metrics.RecordIngestReport(metrics.IngestOutcomeUnauthorized, time.Since(start))
		return tracker.ApplyResult{}, err
	}

	if err := g.validate(report); err != nil {
		metrics.RecordIngestReport(metrics.IngestOutcomeInvalid, time.Since(start))
		return tracker.ApplyResult{}, err
	}

	if !g.fleet.Exists(report.VehicleID) {
		metrics.RecordIngestReport(metrics.IngestOutcomeNotFound, time.Since(start))
		return tracker.ApplyResult{}, ErrVehicleNotFound
	}

	pos := models.Position{
		VehicleID:  report.VehicleID,
		Latitude:   *report.Latitude,
		Longitude:  *report.Longitude,
		Speed:      report.Speed,
		ObservedAt: time.Now().UTC(),
	}

	result, err := g.store.ApplyUpdate(ctx, pos)
	if err != nil {
		metrics.RecordIngestReport(metrics.IngestOutcomeStorageError, time.Since(start))
		logging.Error().Err(err).Str("vehicle_id", report.VehicleID).Msg("position update rejected by storage")
		return tracker.ApplyResult{}, err
	}

	outcome := metrics.IngestOutcomeApplied
	if result.Stale {
		outcome = metrics.IngestOutcomeStale
		logging.Debug().Str("vehicle_id", report.VehicleID).Time("observed_at", pos.ObservedAt).Msg("stale report recorded")
	}
	metrics.RecordIngestReport(outcome, time.Since(start))

	return result, nil
}

// validate combines struct tag validation with explicit finite checks.
// Validator tags compare against range bounds, which NaN fails, but the
// non-finite rejection is a stated contract so it is checked by name.
func (g *Gateway) validate(report DeviceReport) error {
	for _, v := range []*float64{report.Latitude, report.Longitude, &report.Speed} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return ErrInvalidReport
		}
	}
	if err := validation.ValidateStruct(report); err != nil {
		return errors.Join(ErrInvalidReport, err)
	}
	return nil
}
