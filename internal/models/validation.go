// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades a validation finding. Errors indicate data the pipeline
// produced that violates an invariant; warnings flag suspicious but
// plausible data; info is advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue is one finding from one check. AffectedIDs carries a
// bounded sample of the offending external IDs; AffectedCount is the
// full count.
type ValidationIssue struct {
	ID            uuid.UUID `json:"id"`
	ReportID      uuid.UUID `json:"reportId"`
	CheckName     string    `json:"checkName"`
	Severity      Severity  `json:"severity"`
	EntityType    string    `json:"entityType"`
	Description   string    `json:"description"`
	AffectedCount int       `json:"affectedCount"`
	AffectedIDs   []string  `json:"affectedIds,omitempty"`
}

// ValidationReport summarizes one validation battery run. It is keyed to
// the sync run whose transform output it inspected.
type ValidationReport struct {
	ID           uuid.UUID         `json:"id"`
	SyncRunID    uuid.UUID         `json:"syncRunId"`
	EntityType   EntityType        `json:"entityType"`
	RanAt        time.Time         `json:"ranAt"`
	Duration     time.Duration     `json:"duration"`
	ChecksRun    int               `json:"checksRun"`
	ErrorCount   int               `json:"errorCount"`
	WarningCount int               `json:"warningCount"`
	InfoCount    int               `json:"infoCount"`
	Issues       []ValidationIssue `json:"issues,omitempty"`
}

// HasErrors reports whether any error-severity issue was found.
func (r *ValidationReport) HasErrors() bool {
	return r.ErrorCount > 0
}
