// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package database

import "fmt"

// createTables creates all tables if they do not exist. Staging rows are
// append-only: payloads are immutable after insert, and rows are never
// deleted so the staging table remains a replayable audit trail.
func (db *DB) createTables() error {
	queries := []string{
		// payload is VARCHAR, not JSON: it is an opaque blob stored
		// byte-for-byte as fetched, and the duckdb driver returns JSON
		// columns as maps rather than raw text.
		`CREATE TABLE IF NOT EXISTS staging_records (
			id UUID PRIMARY KEY,
			entity_type VARCHAR NOT NULL,
			external_id VARCHAR NOT NULL,
			sync_run_id UUID NOT NULL,
			api_page INTEGER NOT NULL DEFAULT 0,
			api_offset INTEGER NOT NULL DEFAULT 0,
			payload VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error VARCHAR,
			staged_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			claimed_at TIMESTAMP,
			processed_at TIMESTAMP,
			UNIQUE (entity_type, external_id, sync_run_id)
		)`,

		`CREATE TABLE IF NOT EXISTS contacts (
			id UUID PRIMARY KEY,
			external_id VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL DEFAULT '',
			email VARCHAR NOT NULL DEFAULT '',
			phone VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			external_id VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL DEFAULT '',
			email VARCHAR NOT NULL DEFAULT '',
			needs_full_sync BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS departments (
			id UUID PRIMARY KEY,
			external_id VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL DEFAULT '',
			needs_full_sync BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY,
			external_id VARCHAR NOT NULL UNIQUE,
			contact_id UUID NOT NULL,
			agent_id UUID,
			department_id UUID,
			status VARCHAR NOT NULL,
			closed BOOLEAN NOT NULL DEFAULT false,
			started_at TIMESTAMP NOT NULL,
			opened_at TIMESTAMP,
			picked_up_at TIMESTAMP,
			response_at TIMESTAMP,
			closed_at TIMESTAMP,
			poll_started_at TIMESTAMP,
			poll_completed_at TIMESTAMP,
			poll_abandoned_at TIMESTAMP,
			poll_response VARCHAR,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Message identity is (chat_external_id, ordinal): the position in
		// the upstream message array, stable across re-syncs even when
		// several messages share a sent_at timestamp.
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			chat_id UUID NOT NULL,
			chat_external_id VARCHAR NOT NULL,
			ordinal INTEGER NOT NULL,
			sender VARCHAR NOT NULL DEFAULT '',
			sender_type VARCHAR NOT NULL DEFAULT '',
			body VARCHAR NOT NULL DEFAULT '',
			sent_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (chat_external_id, ordinal)
		)`,

		`CREATE TABLE IF NOT EXISTS sync_states (
			id UUID PRIMARY KEY,
			entity_type VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT 'running',
			full_sync BOOLEAN NOT NULL DEFAULT false,
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			pages_fetched INTEGER NOT NULL DEFAULT 0,
			records_staged INTEGER NOT NULL DEFAULT 0,
			records_created INTEGER NOT NULL DEFAULT 0,
			records_updated INTEGER NOT NULL DEFAULT 0,
			records_skipped INTEGER NOT NULL DEFAULT 0,
			records_failed INTEGER NOT NULL DEFAULT 0,
			error VARCHAR NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS validation_reports (
			id UUID PRIMARY KEY,
			sync_run_id UUID NOT NULL,
			entity_type VARCHAR NOT NULL,
			ran_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			checks_run INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			warning_count INTEGER NOT NULL DEFAULT 0,
			info_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS validation_issues (
			id UUID PRIMARY KEY,
			report_id UUID NOT NULL,
			check_name VARCHAR NOT NULL,
			severity VARCHAR NOT NULL,
			entity_type VARCHAR NOT NULL,
			description VARCHAR NOT NULL,
			affected_count INTEGER NOT NULL DEFAULT 0,
			affected_ids VARCHAR NOT NULL DEFAULT ''
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// createIndexes creates secondary indexes for the hot query paths: staging
// batch claims, per-chat message lookups, and latest-run queries.
func (db *DB) createIndexes() error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_staging_status ON staging_records (entity_type, status)`,
		`CREATE INDEX IF NOT EXISTS idx_staging_sync_run ON staging_records (sync_run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_contact ON chats (contact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_status ON chats (status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_states_entity ON sync_states (entity_type, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_validation_issues_report ON validation_issues (report_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
