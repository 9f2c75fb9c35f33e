// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/models"
)

// CreateSyncState opens a new sync run row for an entity type.
func (db *DB) CreateSyncState(ctx context.Context, entity models.EntityType, fullSync bool) (*models.SyncState, error) {
	state := &models.SyncState{
		ID:         uuid.New(),
		EntityType: entity,
		Status:     models.SyncRunning,
		FullSync:   fullSync,
		StartedAt:  time.Now().UTC(),
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_states (id, entity_type, status, full_sync, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		state.ID, state.EntityType, state.Status, state.FullSync, state.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync state: %w", err)
	}
	return state, nil
}

// AddSyncCounts accumulates counters onto a running sync run. The transform
// loop calls this once per iteration, so counts survive a crash mid-run.
func (db *DB) AddSyncCounts(ctx context.Context, id uuid.UUID, delta models.SyncState) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_states SET
			pages_fetched = pages_fetched + ?,
			records_staged = records_staged + ?,
			records_created = records_created + ?,
			records_updated = records_updated + ?,
			records_skipped = records_skipped + ?,
			records_failed = records_failed + ?
		WHERE id = ?`,
		delta.PagesFetched, delta.RecordsStaged, delta.RecordsCreated,
		delta.RecordsUpdated, delta.RecordsSkipped, delta.RecordsFailed, id)
	if err != nil {
		return fmt.Errorf("failed to update sync counts: %w", err)
	}
	return nil
}

// FinalizeSyncState marks a run completed or failed. runErr, when non-nil,
// is recorded and forces failed status.
func (db *DB) FinalizeSyncState(ctx context.Context, id uuid.UUID, runErr error) error {
	status := models.SyncCompleted
	errMsg := ""
	if runErr != nil {
		status = models.SyncFailed
		errMsg = runErr.Error()
	}
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_states SET status = ?, completed_at = ?, error = ?
		WHERE id = ?`,
		status, time.Now().UTC(), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finalize sync state: %w", err)
	}
	return nil
}

// GetSyncState returns one sync run, or (nil, nil) when absent.
func (db *DB) GetSyncState(ctx context.Context, id uuid.UUID) (*models.SyncState, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, entity_type, status, full_sync, started_at, completed_at,
			pages_fetched, records_staged, records_created, records_updated,
			records_skipped, records_failed, error
		FROM sync_states WHERE id = ?`, id)
	return scanSyncState(row)
}

// LatestSyncState returns the most recent run for an entity type, or
// (nil, nil) if the entity has never synced.
func (db *DB) LatestSyncState(ctx context.Context, entity models.EntityType) (*models.SyncState, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, entity_type, status, full_sync, started_at, completed_at,
			pages_fetched, records_staged, records_created, records_updated,
			records_skipped, records_failed, error
		FROM sync_states WHERE entity_type = ?
		ORDER BY started_at DESC LIMIT 1`, entity)
	return scanSyncState(row)
}

// LastCompletedSyncStart returns the started_at of the most recent
// successful run for an entity type. The extractor uses it (minus the
// configured lookback) as the incremental updated_since watermark.
func (db *DB) LastCompletedSyncStart(ctx context.Context, entity models.EntityType) (*time.Time, error) {
	var t time.Time
	err := db.conn.QueryRowContext(ctx, `
		SELECT started_at FROM sync_states
		WHERE entity_type = ? AND status = 'completed'
		ORDER BY started_at DESC LIMIT 1`, entity).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last completed sync: %w", err)
	}
	return &t, nil
}

func scanSyncState(row *sql.Row) (*models.SyncState, error) {
	var s models.SyncState
	err := row.Scan(&s.ID, &s.EntityType, &s.Status, &s.FullSync, &s.StartedAt, &s.CompletedAt,
		&s.PagesFetched, &s.RecordsStaged, &s.RecordsCreated, &s.RecordsUpdated,
		&s.RecordsSkipped, &s.RecordsFailed, &s.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync state: %w", err)
	}
	return &s, nil
}
