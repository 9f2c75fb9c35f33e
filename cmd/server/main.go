// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Command server runs the Chatfunnel sync pipeline: the Conversa
// extractor, staging transformer, validation engine, and the management
// HTTP API, all under a suture supervision tree.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/chatfunnel/chatfunnel/internal/api"
	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/database"
	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/supervisor"
	"github.com/chatfunnel/chatfunnel/internal/supervisor/services"
	"github.com/chatfunnel/chatfunnel/internal/sync"
)

func main() {
	// Optional .env for local development; a missing file is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run(cfg *config.Config) error {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	client := sync.NewCircuitBreakerClient(&cfg.Conversa)
	manager := sync.NewManager(cfg, db, client)
	defer func() {
		if err := manager.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close sync manager")
		}
	}()

	handlers := api.NewHandlers(manager, db)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(&cfg.Server, handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	tree.AddPipelineService(services.NewSyncService(manager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("database", cfg.Database.Path).
		Bool("auto_sync", cfg.Sync.AutoSync).
		Msg("Chatfunnel starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services did not stop within timeout")
	}

	logging.Info().Msg("Chatfunnel stopped")
	return nil
}
