// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package models

import (
	"time"

	"github.com/google/uuid"
)

// StagingStatus is the processing lifecycle of a staged record.
type StagingStatus string

const (
	StagingPending    StagingStatus = "pending"
	StagingProcessing StagingStatus = "processing"
	StagingCompleted  StagingStatus = "completed"
	StagingFailed     StagingStatus = "failed"
)

// EntityType identifies which upstream collection a record belongs to.
type EntityType string

const (
	EntityContacts EntityType = "contacts"
	EntityChats    EntityType = "chats"
)

// IsValid reports whether e is a syncable entity type.
func (e EntityType) IsValid() bool {
	return e == EntityContacts || e == EntityChats
}

// StagingRecord holds one raw upstream payload exactly as fetched.
// Payload is immutable after insert; only the processing bookkeeping
// fields change. Records are never deleted, so the staging table is a
// replayable audit trail of everything the extractor ever saw.
type StagingRecord struct {
	ID         uuid.UUID  `json:"id"`
	EntityType EntityType `json:"entityType"`
	ExternalID string     `json:"externalId"`
	SyncRunID  uuid.UUID  `json:"syncRunId"`

	// APIPage and APIOffset record where in the upstream pagination this
	// record was fetched, so a staged payload can be traced back and
	// replayed against the API.
	APIPage   int `json:"apiPage"`
	APIOffset int `json:"apiOffset"`

	Payload     []byte        `json:"payload"`
	Status      StagingStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"lastError,omitempty"`
	StagedAt    time.Time     `json:"stagedAt"`
	ClaimedAt   *time.Time    `json:"claimedAt,omitempty"`
	ProcessedAt *time.Time    `json:"processedAt,omitempty"`
}

// SyncStatus is the lifecycle of a sync run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncState is the bookkeeping row for one sync run of one entity type.
// It doubles as the transform log: the counters accumulate across every
// transform iteration executed within the run.
type SyncState struct {
	ID             uuid.UUID  `json:"id"`
	EntityType     EntityType `json:"entityType"`
	Status         SyncStatus `json:"status"`
	FullSync       bool       `json:"fullSync"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	PagesFetched   int        `json:"pagesFetched"`
	RecordsStaged  int        `json:"recordsStaged"`
	RecordsCreated int        `json:"recordsCreated"`
	RecordsUpdated int        `json:"recordsUpdated"`
	RecordsSkipped int        `json:"recordsSkipped"`
	RecordsFailed  int        `json:"recordsFailed"`
	Error          string     `json:"error,omitempty"`
}
