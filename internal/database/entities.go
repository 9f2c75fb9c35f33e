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

// UpsertContact inserts or updates a contact keyed by external ID.
// Returns the row's UUID and whether a new row was created.
func (db *DB) UpsertContact(ctx context.Context, c *models.Contact) (uuid.UUID, bool, error) {
	existing, err := db.lookupID(ctx, "contacts", c.ExternalID)
	if err != nil {
		return uuid.Nil, false, err
	}
	now := time.Now().UTC()

	if existing == uuid.Nil {
		id := uuid.New()
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO contacts (id, external_id, name, email, phone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, c.ExternalID, c.Name, c.Email, c.Phone, now, now)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to insert contact %s: %w", c.ExternalID, err)
		}
		return id, true, nil
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE contacts SET name = ?, email = ?, phone = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Email, c.Phone, now, existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to update contact %s: %w", c.ExternalID, err)
	}
	return existing, false, nil
}

// EnsureAgentStub resolves an agent external ID referenced by a chat
// payload. If no row exists yet, a stub flagged needs_full_sync is created
// so the reference never dangles; an existing row is returned as-is.
func (db *DB) EnsureAgentStub(ctx context.Context, externalID string) (uuid.UUID, error) {
	existing, err := db.lookupID(ctx, "agents", externalID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != uuid.Nil {
		return existing, nil
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO agents (id, external_id, needs_full_sync, created_at, updated_at)
		VALUES (?, ?, true, ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		id, externalID, now, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create agent stub %s: %w", externalID, err)
	}
	return db.lookupID(ctx, "agents", externalID)
}

// EnsureDepartmentStub is EnsureAgentStub for departments.
func (db *DB) EnsureDepartmentStub(ctx context.Context, externalID string) (uuid.UUID, error) {
	existing, err := db.lookupID(ctx, "departments", externalID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != uuid.Nil {
		return existing, nil
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO departments (id, external_id, needs_full_sync, created_at, updated_at)
		VALUES (?, ?, true, ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		id, externalID, now, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create department stub %s: %w", externalID, err)
	}
	return db.lookupID(ctx, "departments", externalID)
}

// UpsertChat inserts or updates a chat keyed by external ID. All derived
// fields (status included) are overwritten on update: the staging payload
// is the source of truth and re-transforms must converge to the same row.
func (db *DB) UpsertChat(ctx context.Context, c *models.Chat) (uuid.UUID, bool, error) {
	existing, err := db.lookupID(ctx, "chats", c.ExternalID)
	if err != nil {
		return uuid.Nil, false, err
	}
	now := time.Now().UTC()

	var pollResponse any
	if len(c.PollResponse) > 0 {
		pollResponse = string(c.PollResponse)
	}

	if existing == uuid.Nil {
		id := uuid.New()
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO chats (
				id, external_id, contact_id, agent_id, department_id, status, closed,
				started_at, opened_at, picked_up_at, response_at, closed_at,
				poll_started_at, poll_completed_at, poll_abandoned_at, poll_response,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, c.ExternalID, c.ContactID, c.AgentID, c.DepartmentID, c.Status, c.Closed,
			c.StartedAt, c.OpenedAt, c.PickedUpAt, c.ResponseAt, c.ClosedAt,
			c.PollStartedAt, c.PollCompletedAt, c.PollAbandonedAt, pollResponse,
			now, now)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to insert chat %s: %w", c.ExternalID, err)
		}
		return id, true, nil
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE chats SET
			contact_id = ?, agent_id = ?, department_id = ?, status = ?, closed = ?,
			started_at = ?, opened_at = ?, picked_up_at = ?, response_at = ?, closed_at = ?,
			poll_started_at = ?, poll_completed_at = ?, poll_abandoned_at = ?, poll_response = ?,
			updated_at = ?
		WHERE id = ?`,
		c.ContactID, c.AgentID, c.DepartmentID, c.Status, c.Closed,
		c.StartedAt, c.OpenedAt, c.PickedUpAt, c.ResponseAt, c.ClosedAt,
		c.PollStartedAt, c.PollCompletedAt, c.PollAbandonedAt, pollResponse,
		now, existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to update chat %s: %w", c.ExternalID, err)
	}
	return existing, false, nil
}

// UpsertMessages writes the full message array of a chat. Identity is
// (chat_external_id, ordinal), so re-syncing a chat rewrites its messages
// in place rather than duplicating rows.
func (db *DB) UpsertMessages(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, chat_id, chat_external_id, ordinal, sender, sender_type, body, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_external_id, ordinal) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			sender = EXCLUDED.sender,
			sender_type = EXCLUDED.sender_type,
			body = EXCLUDED.body,
			sent_at = EXCLUDED.sent_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare message upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, m := range msgs {
		id := m.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := stmt.ExecContext(ctx, id, m.ChatID, m.ChatExternalID, m.Ordinal,
			m.Sender, m.SenderType, m.Body, m.SentAt, now); err != nil {
			return fmt.Errorf("failed to upsert message %s/%d: %w", m.ChatExternalID, m.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// GetChatByExternalID returns a chat, or (nil, nil) when absent.
func (db *DB) GetChatByExternalID(ctx context.Context, externalID string) (*models.Chat, error) {
	var c models.Chat
	var pollResponse sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, external_id, contact_id, agent_id, department_id, status, closed,
			started_at, opened_at, picked_up_at, response_at, closed_at,
			poll_started_at, poll_completed_at, poll_abandoned_at, poll_response,
			created_at, updated_at
		FROM chats WHERE external_id = ?`, externalID).Scan(
		&c.ID, &c.ExternalID, &c.ContactID, &c.AgentID, &c.DepartmentID, &c.Status, &c.Closed,
		&c.StartedAt, &c.OpenedAt, &c.PickedUpAt, &c.ResponseAt, &c.ClosedAt,
		&c.PollStartedAt, &c.PollCompletedAt, &c.PollAbandonedAt, &pollResponse,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat %s: %w", externalID, err)
	}
	if pollResponse.Valid {
		c.PollResponse = []byte(pollResponse.String)
	}
	return &c, nil
}

// GetContactByExternalID returns a contact, or (nil, nil) when absent.
func (db *DB) GetContactByExternalID(ctx context.Context, externalID string) (*models.Contact, error) {
	var c models.Contact
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, external_id, name, email, phone, created_at, updated_at
		FROM contacts WHERE external_id = ?`, externalID).Scan(
		&c.ID, &c.ExternalID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact %s: %w", externalID, err)
	}
	return &c, nil
}

// MessagesForChat returns a chat's messages ordered by ordinal.
func (db *DB) MessagesForChat(ctx context.Context, chatExternalID string) ([]models.Message, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, chat_id, chat_external_id, ordinal, sender, sender_type, body, sent_at, created_at
		FROM messages WHERE chat_external_id = ?
		ORDER BY ordinal`, chatExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for chat %s: %w", chatExternalID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.ChatExternalID, &m.Ordinal,
			&m.Sender, &m.SenderType, &m.Body, &m.SentAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// EntityCounts returns per-table row counts for the status endpoint.
func (db *DB) EntityCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"contacts", "agents", "departments", "chats", "messages"} {
		var n int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// lookupID resolves an external ID to the row UUID in the given table, or
// uuid.Nil when no row exists.
func (db *DB) lookupID(ctx context.Context, table, externalID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.conn.QueryRowContext(ctx,
		"SELECT id FROM "+table+" WHERE external_id = ?", externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up %s %s: %w", table, externalID, err)
	}
	return id, nil
}
