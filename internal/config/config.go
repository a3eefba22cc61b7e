// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package config provides layered configuration loading for Fleetglass
// using Koanf v2: struct defaults, then an optional YAML file, then
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Device   DeviceConfig   `koanf:"device"`
	Tracking TrackingConfig `koanf:"tracking"`
	Storage  StorageConfig  `koanf:"storage"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DeviceConfig holds the ingestion boundary credential. Every field device
// is provisioned with the same shared key; reports carrying any other value
// are rejected before touching state.
type DeviceConfig struct {
	APIKey string `koanf:"api_key"`
}

// TrackingConfig holds the tracking engine knobs.
type TrackingConfig struct {
	// HistoryLimit bounds the in-memory per-vehicle history ring.
	// Oldest records are evicted first when the bound is exceeded.
	HistoryLimit int `koanf:"history_limit"`

	// ClientBuffer is the per-subscriber outbound message allowance.
	// When a subscriber's buffer is full the newest delivery is dropped
	// for that subscriber rather than blocking the broadcaster.
	ClientBuffer int `koanf:"client_buffer"`
}

// StorageConfig holds the durable location log settings.
type StorageConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// SecurityConfig holds CORS and rate limiting settings. Authentication for
// the query and push boundaries is delegated to an external account system
// and deliberately absent here.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in range 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Tracking.HistoryLimit < 1 {
		return fmt.Errorf("tracking.history_limit must be at least 1, got %d", c.Tracking.HistoryLimit)
	}
	if c.Tracking.ClientBuffer < 1 {
		return fmt.Errorf("tracking.client_buffer must be at least 1, got %d", c.Tracking.ClientBuffer)
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage is enabled")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("security.rate_limit_reqs must be at least 1, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %s", c.Security.RateLimitWindow)
		}
	}
	return nil
}
