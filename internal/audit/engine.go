// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package audit runs the post-transform data-quality battery.
//
// Every check is read-only SQL over the normalized tables: checks report
// on data, they never repair it. Findings are graded error (invariant
// violation), warning (suspicious but plausible), or info (advisory), and
// each finding carries a bounded sample of affected external IDs plus the
// full count.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/database"
	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/metrics"
	"github.com/chatfunnel/chatfunnel/internal/models"
)

// maxSampleIDs caps how many offending external IDs a finding carries.
const maxSampleIDs = 10

// staleOpenThreshold flags open chats older than this as likely abandoned
// upstream without a close event. Chats with a message inside the window
// are exempt: an old chat that is still talking is not stale.
const staleOpenThreshold = 7 * 24 * time.Hour

// stalePollThreshold flags surveys that started but never resolved to
// completed or abandoned within this window.
const stalePollThreshold = 24 * time.Hour

// check is one named data-quality rule. run receives the check itself so
// findings carry its name and severity; it returns nil when the rule
// passes.
type check struct {
	name     string
	severity models.Severity
	run      func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error)
}

// Engine executes the check battery and persists reports.
type Engine struct {
	db *database.DB
}

// NewEngine creates an audit engine over the given store.
func NewEngine(db *database.DB) *Engine {
	return &Engine{db: db}
}

// Run executes every check registered for the entity type, persists the
// report keyed to the sync run, and returns it. A check that errors aborts
// the battery; findings themselves never do.
func (e *Engine) Run(ctx context.Context, syncRunID uuid.UUID, entity models.EntityType) (*models.ValidationReport, error) {
	start := time.Now()
	checks := checksFor(entity)

	report := &models.ValidationReport{
		ID:         uuid.New(),
		SyncRunID:  syncRunID,
		EntityType: entity,
		RanAt:      start.UTC(),
		ChecksRun:  len(checks),
	}

	for _, c := range checks {
		issue, err := c.run(ctx, e, c)
		if err != nil {
			return nil, err
		}
		if issue == nil {
			continue
		}

		issue.ReportID = report.ID
		report.Issues = append(report.Issues, *issue)
		metrics.ValidationIssues.WithLabelValues(string(entity), string(issue.Severity)).Inc()

		switch issue.Severity {
		case models.SeverityError:
			report.ErrorCount++
		case models.SeverityWarning:
			report.WarningCount++
		case models.SeverityInfo:
			report.InfoCount++
		}

		logging.Debug().
			Str("check", issue.CheckName).
			Str("severity", string(issue.Severity)).
			Int("affected", issue.AffectedCount).
			Msg("Validation issue found")
	}

	report.Duration = time.Since(start)
	metrics.ValidationRunDuration.WithLabelValues(string(entity)).Observe(report.Duration.Seconds())

	if err := e.db.InsertValidationReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// sampledIssue builds an issue from a list of offending IDs, keeping at
// most maxSampleIDs of them. Returns nil when nothing is affected.
func sampledIssue(c check, entityType, description string, ids []string) *models.ValidationIssue {
	if len(ids) == 0 {
		return nil
	}
	sample := ids
	if len(sample) > maxSampleIDs {
		sample = sample[:maxSampleIDs]
	}
	return &models.ValidationIssue{
		ID:            uuid.New(),
		CheckName:     c.name,
		Severity:      c.severity,
		EntityType:    entityType,
		Description:   description,
		AffectedCount: len(ids),
		AffectedIDs:   sample,
	}
}

// queryIDs runs a query whose single column is an external ID list.
func (e *Engine) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := e.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
