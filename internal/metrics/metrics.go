// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package metrics provides Prometheus instrumentation for the tracking
// engine: ingestion outcomes, fan-out delivery, WebSocket sessions, the
// durable location log, and API request latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcome label values.
const (
	IngestOutcomeApplied      = "applied"
	IngestOutcomeStale        = "stale"
	IngestOutcomeUnauthorized = "unauthorized"
	IngestOutcomeNotFound     = "not_found"
	IngestOutcomeInvalid      = "invalid"
	IngestOutcomeStorageError = "storage_error"
)

var (
	// Ingestion metrics
	IngestReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_reports_total",
			Help: "Total number of device location reports by outcome",
		},
		[]string{"outcome"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_report_duration_seconds",
			Help:    "Duration of the ingest pipeline (validate, reconcile, enqueue broadcasts)",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	// Fan-out metrics
	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Total number of position updates enqueued to subscriber sessions",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Total number of position updates dropped due to a full subscriber buffer",
		},
	)

	// WebSocket session metrics
	WebSocketSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_sessions",
			Help: "Current number of connected WebSocket sessions",
		},
	)

	Subscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions",
			Help: "Current number of (session, vehicle) subscriptions",
		},
	)

	// Durable location log metrics
	LocationLogAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "location_log_appends_total",
			Help: "Total number of positions appended to the durable location log",
		},
	)

	LocationLogErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "location_log_errors_total",
			Help: "Total number of durable location log failures",
		},
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordIngestReport records one ingestion attempt with its outcome.
func RecordIngestReport(outcome string, duration time.Duration) {
	IngestReportsTotal.WithLabelValues(outcome).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records API request metrics.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
