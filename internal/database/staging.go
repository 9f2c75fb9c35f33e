// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/models"
)

// InsertStagingRecords writes a page of raw payloads in a single
// transaction. A record already staged for the same (entity, external ID,
// run) is left untouched, so re-fetching a page after a partial failure is
// safe. Returns the number of rows actually inserted.
func (db *DB) InsertStagingRecords(ctx context.Context, records []models.StagingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staging_records (id, entity_type, external_id, sync_run_id, api_page, api_offset, payload, status, staged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (entity_type, external_id, sync_run_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare staging insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		id := rec.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		stagedAt := rec.StagedAt
		if stagedAt.IsZero() {
			stagedAt = time.Now().UTC()
		}
		res, err := stmt.ExecContext(ctx, id, rec.EntityType, rec.ExternalID, rec.SyncRunID,
			rec.APIPage, rec.APIOffset, string(rec.Payload), stagedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to stage record %s: %w", rec.ExternalID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count staged records: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit staging batch: %w", err)
	}
	return inserted, nil
}

// ClaimPendingBatch atomically moves up to limit pending records of the
// given entity type to processing and returns them, oldest first.
func (db *DB) ClaimPendingBatch(ctx context.Context, entity models.EntityType, limit int) ([]models.StagingRecord, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, entity_type, external_id, sync_run_id, api_page, api_offset, payload, status, attempts, COALESCE(last_error, ''), staged_at
		FROM staging_records
		WHERE entity_type = ? AND status = 'pending'
		ORDER BY staged_at, external_id
		LIMIT ?`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}

	var batch []models.StagingRecord
	for rows.Next() {
		var rec models.StagingRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.ExternalID, &rec.SyncRunID,
			&rec.APIPage, &rec.APIOffset, &payload, &rec.Status, &rec.Attempts, &rec.LastError, &rec.StagedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan staging record: %w", err)
		}
		rec.Payload = []byte(payload)
		batch = append(batch, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending records: %w", err)
	}

	if len(batch) == 0 {
		return nil, tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE staging_records SET status = 'processing', claimed_at = ? WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare claim update: %w", err)
	}
	defer stmt.Close()

	claimedAt := time.Now().UTC()
	for i := range batch {
		if _, err := stmt.ExecContext(ctx, claimedAt, batch[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim record %s: %w", batch[i].ID, err)
		}
		batch[i].Status = models.StagingProcessing
		batch[i].ClaimedAt = &claimedAt
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return batch, nil
}

// MarkCompleted records a successful transform of a staging record.
func (db *DB) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE staging_records
		SET status = 'completed', processed_at = ?, last_error = NULL
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark staging record completed: %w", err)
	}
	return nil
}

// MarkFailed records a transform failure. The attempt counter increments
// and the error message is kept for the reset endpoint to surface.
func (db *DB) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE staging_records
		SET status = 'failed', attempts = attempts + 1, last_error = ?, processed_at = ?
		WHERE id = ?`, cause, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark staging record failed: %w", err)
	}
	return nil
}

// ResetFailed flips failed records back to pending for another transform
// pass. Records at or above maxAttempts stay failed unless force is set.
// Returns the number of records reset.
func (db *DB) ResetFailed(ctx context.Context, entity models.EntityType, maxAttempts int, force bool) (int, error) {
	query := `
		UPDATE staging_records
		SET status = 'pending', claimed_at = NULL, processed_at = NULL
		WHERE entity_type = ? AND status = 'failed'`
	args := []any{entity}
	if !force {
		query += ` AND attempts < ?`
		args = append(args, maxAttempts)
	}

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset records: %w", err)
	}
	return int(n), nil
}

// SweepStaleProcessing returns records stranded in processing (a crash
// mid-batch) back to pending so the next run picks them up. Staleness is
// measured from when the record was claimed, never from when it was
// staged: a record claimed moments ago by a live run is not stale no
// matter how long it sat in the backlog.
func (db *DB) SweepStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := db.conn.ExecContext(ctx, `
		UPDATE staging_records
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at IS NOT NULL AND claimed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale processing records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept records: %w", err)
	}
	return int(n), nil
}

// CountByStatus returns the number of staging records per status for one
// entity type.
func (db *DB) CountByStatus(ctx context.Context, entity models.EntityType) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM staging_records
		WHERE entity_type = ?
		GROUP BY status`, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to count staging records: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		"pending":    0,
		"processing": 0,
		"completed":  0,
		"failed":     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PendingCount returns the number of pending staging records for an
// entity type. The transform loop uses it as its termination check.
func (db *DB) PendingCount(ctx context.Context, entity models.EntityType) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM staging_records
		WHERE entity_type = ? AND status = 'pending'`, entity).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return n, nil
}

func rollbackQuietly(tx *sql.Tx) {
	// Rollback after Commit returns sql.ErrTxDone, which is fine.
	_ = tx.Rollback()
}
