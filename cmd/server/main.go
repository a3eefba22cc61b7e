// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Command server runs the Fleetglass tracking core: device ingestion,
// the in-memory tracker, the WebSocket fan-out hub, and the HTTP API,
// all under a suture supervision tree.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetglass/fleetglass/internal/api"
	"github.com/fleetglass/fleetglass/internal/config"
	"github.com/fleetglass/fleetglass/internal/fleet"
	"github.com/fleetglass/fleetglass/internal/ingest"
	"github.com/fleetglass/fleetglass/internal/locationlog"
	"github.com/fleetglass/fleetglass/internal/logging"
	"github.com/fleetglass/fleetglass/internal/subscription"
	"github.com/fleetglass/fleetglass/internal/supervisor"
	"github.com/fleetglass/fleetglass/internal/supervisor/services"
	"github.com/fleetglass/fleetglass/internal/tracker"
	"github.com/fleetglass/fleetglass/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Int("history_limit", cfg.Tracking.HistoryLimit).
		Bool("storage_enabled", cfg.Storage.Enabled).
		Msg("starting fleetglass")

	if cfg.Device.APIKey == "" {
		logging.Warn().Msg("device.api_key is not set, all device reports will be rejected")
	}

	// Durable position archive. Optional: without it the tracker runs
	// purely in memory.
	var archive *locationlog.Log
	if cfg.Storage.Enabled {
		archive, err = locationlog.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := archive.Close(); err != nil {
				logging.Error().Err(err).Msg("failed to close location log")
			}
		}()
	}

	// Core wiring: subscriptions feed the hub, the hub publishes what the
	// tracker applies, the gateway guards the tracker's write path.
	subs := subscription.NewRegistry()
	hub := websocket.NewHub(subs, cfg.Tracking.ClientBuffer)

	var appender tracker.Appender
	if archive != nil {
		appender = archive
	}
	store := tracker.NewStore(cfg.Tracking.HistoryLimit, appender, hub)

	vehicles := fleet.NewRegistry()
	gateway := ingest.NewGateway(cfg.Device.APIKey, vehicles, store)

	handler := api.NewHandler(gateway, vehicles, store, archive, hub, cfg.Security.CORSOrigins)
	chiMw := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
		CORSAllowedOrigins:   cfg.Security.CORSOrigins,
		CORSAllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:   []string{"Content-Type", "X-Device-Key"},
		CORSAllowCredentials: false,
		CORSMaxAge:           86400,
		RateLimitRequests:    cfg.Security.RateLimitReqs,
		RateLimitWindow:      cfg.Security.RateLimitWindow,
		RateLimitDisabled:    cfg.Security.RateLimitDisabled,
	})
	router := api.NewRouter(handler, chiMw)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return err
	}

	logging.Info().Msg("fleetglass stopped")
	return nil
}
