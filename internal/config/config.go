// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package config defines the application configuration and its koanf-based
// loader. Precedence is ENV > config file > built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Conversa ConversaConfig `koanf:"conversa"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ConversaConfig configures the upstream chat platform client.
type ConversaConfig struct {
	URL           string        `koanf:"url"`
	APIKey        string        `koanf:"api_key"`
	Timeout       time.Duration `koanf:"timeout"`
	PageSize      int           `koanf:"page_size"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	RateBurst     int           `koanf:"rate_burst"`
}

// DatabaseConfig configures the embedded DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = DuckDB default
}

// SyncConfig configures the sync orchestrator.
type SyncConfig struct {
	AutoSync               bool          `koanf:"auto_sync"`
	Interval               time.Duration `koanf:"interval"`
	Lookback               time.Duration `koanf:"lookback"`
	FullSync               bool          `koanf:"full_sync"`
	BatchSize              int           `koanf:"batch_size"`
	RetryAttempts          int           `koanf:"retry_attempts"`
	RetryDelay             time.Duration `koanf:"retry_delay"`
	MaxAttempts            int           `koanf:"max_attempts"`
	MaxTransformIterations int           `koanf:"max_transform_iterations"`
	StaleProcessingAfter   time.Duration `koanf:"stale_processing_after"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate checks the configuration for values that would make the
// pipeline misbehave at runtime rather than failing fast at startup.
func (c *Config) Validate() error {
	if c.Conversa.URL == "" {
		return fmt.Errorf("conversa.url is required")
	}
	if !strings.HasPrefix(c.Conversa.URL, "http://") && !strings.HasPrefix(c.Conversa.URL, "https://") {
		return fmt.Errorf("conversa.url must start with http:// or https://")
	}
	if c.Conversa.APIKey == "" {
		return fmt.Errorf("conversa.api_key is required")
	}
	if c.Conversa.PageSize < 1 || c.Conversa.PageSize > 1000 {
		return fmt.Errorf("conversa.page_size must be between 1 and 1000, got %d", c.Conversa.PageSize)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be positive, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.MaxTransformIterations < 1 {
		return fmt.Errorf("sync.max_transform_iterations must be positive, got %d", c.Sync.MaxTransformIterations)
	}
	if c.Sync.AutoSync && c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m when auto_sync is enabled, got %s", c.Sync.Interval)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}
