// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package services wraps the application's long-running components as
// suture.Service implementations.
package services

import (
	"context"
	"fmt"
)

// SyncWorker matches the sync manager's worker loop: Run blocks until the
// context is canceled, Close releases the trigger queue.
type SyncWorker interface {
	Run(ctx context.Context) error
	Close() error
}

// SyncService runs the sync manager's queue worker under supervision.
// If the worker returns with an error, suture restarts it per its backoff
// policy; a clean context cancellation stops it for good.
type SyncService struct {
	worker SyncWorker
}

// NewSyncService wraps a sync worker.
func NewSyncService(worker SyncWorker) *SyncService {
	return &SyncService{worker: worker}
}

// Serve implements suture.Service.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.worker.Run(ctx); err != nil {
		return fmt.Errorf("sync worker failed: %w", err)
	}
	return ctx.Err()
}

func (s *SyncService) String() string {
	return "sync-worker"
}
