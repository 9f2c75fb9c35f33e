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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/models"
)

// InsertValidationReport persists a report and its issues in one
// transaction.
func (db *DB) InsertValidationReport(ctx context.Context, report *models.ValidationReport) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO validation_reports (id, sync_run_id, entity_type, ran_at, duration_ms,
			checks_run, error_count, warning_count, info_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.SyncRunID, report.EntityType, report.RanAt,
		report.Duration.Milliseconds(), report.ChecksRun,
		report.ErrorCount, report.WarningCount, report.InfoCount)
	if err != nil {
		return fmt.Errorf("failed to insert validation report: %w", err)
	}

	if len(report.Issues) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO validation_issues (id, report_id, check_name, severity, entity_type,
				description, affected_count, affected_ids)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare issue insert: %w", err)
		}
		defer stmt.Close()

		for _, issue := range report.Issues {
			id := issue.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			_, err := stmt.ExecContext(ctx, id, report.ID, issue.CheckName, issue.Severity,
				issue.EntityType, issue.Description, issue.AffectedCount,
				strings.Join(issue.AffectedIDs, ","))
			if err != nil {
				return fmt.Errorf("failed to insert validation issue %s: %w", issue.CheckName, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit validation report: %w", err)
	}
	return nil
}

// GetValidationReport returns the report for a sync run with its issues,
// or (nil, nil) when no validation ran for that run.
func (db *DB) GetValidationReport(ctx context.Context, syncRunID uuid.UUID) (*models.ValidationReport, error) {
	var r models.ValidationReport
	var durationMS int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, sync_run_id, entity_type, ran_at, duration_ms,
			checks_run, error_count, warning_count, info_count
		FROM validation_reports WHERE sync_run_id = ?
		ORDER BY ran_at DESC LIMIT 1`, syncRunID).Scan(
		&r.ID, &r.SyncRunID, &r.EntityType, &r.RanAt, &durationMS,
		&r.ChecksRun, &r.ErrorCount, &r.WarningCount, &r.InfoCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validation report: %w", err)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, report_id, check_name, severity, entity_type, description,
			affected_count, affected_ids
		FROM validation_issues WHERE report_id = ?
		ORDER BY severity, check_name`, r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query validation issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var issue models.ValidationIssue
		var ids string
		if err := rows.Scan(&issue.ID, &issue.ReportID, &issue.CheckName, &issue.Severity,
			&issue.EntityType, &issue.Description, &issue.AffectedCount, &ids); err != nil {
			return nil, fmt.Errorf("failed to scan validation issue: %w", err)
		}
		if ids != "" {
			issue.AffectedIDs = strings.Split(ids, ",")
		}
		r.Issues = append(r.Issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}
