// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package audit

import (
	"context"
	"fmt"

	"github.com/chatfunnel/chatfunnel/internal/models"
	"github.com/chatfunnel/chatfunnel/internal/validation"
)

// checksFor returns the battery for one entity type. Chat runs also cover
// messages and the agent/department stubs chats reference.
func checksFor(entity models.EntityType) []check {
	switch entity {
	case models.EntityContacts:
		return contactChecks
	case models.EntityChats:
		return chatChecks
	default:
		return nil
	}
}

var contactChecks = []check{
	{
		name:     "contact_missing_identity",
		severity: models.SeverityWarning,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM contacts
				WHERE name = '' AND email = '' AND phone = ''
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "contacts",
				"contacts with no name, email, or phone (placeholder rows awaiting a contacts sync)", ids), nil
		},
	},
	{
		name:     "contact_invalid_email",
		severity: models.SeverityWarning,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			rows, err := e.db.Conn().QueryContext(ctx, `
				SELECT external_id, email FROM contacts
				WHERE email <> ''
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			defer rows.Close()

			var ids []string
			for rows.Next() {
				var id, email string
				if err := rows.Scan(&id, &email); err != nil {
					return nil, err
				}
				if !validation.IsValidEmail(email) {
					ids = append(ids, id)
				}
			}
			if err := rows.Err(); err != nil {
				return nil, err
			}
			return sampledIssue(c, "contacts", "contacts whose email does not parse as an email address", ids), nil
		},
	},
	{
		name:     "contact_duplicate_email",
		severity: models.SeverityInfo,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT email FROM contacts
				WHERE email <> ''
				GROUP BY email HAVING COUNT(*) > 1
				ORDER BY email`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "contacts", "email addresses shared by more than one contact", ids), nil
		},
	},
}

var chatChecks = []check{
	{
		name:     "chat_timeline_order",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE (opened_at IS NOT NULL AND opened_at < started_at)
				   OR (picked_up_at IS NOT NULL AND opened_at IS NOT NULL AND picked_up_at < opened_at)
				   OR (response_at IS NOT NULL AND picked_up_at IS NOT NULL AND response_at < picked_up_at)
				   OR (closed_at IS NOT NULL AND closed_at < started_at)
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats", "chats whose lifecycle timestamps are out of order", ids), nil
		},
	},
	{
		name:     "chat_status_open_with_closed_timestamp",
		severity: models.SeverityWarning,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE closed_at IS NOT NULL
				  AND status IN ('bot_chatting', 'opened', 'picked_up', 'responded_by_agent')
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats",
				"chats carrying a closed_at timestamp while their status is still in the open family", ids), nil
		},
	},
	{
		name:     "chat_status_closed_without_timestamp",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE status = 'closed' AND closed_at IS NULL
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats", "chats in status closed without a closed_at timestamp", ids), nil
		},
	},
	{
		name:     "chat_closed_flag_without_timestamp",
		severity: models.SeverityWarning,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE closed AND closed_at IS NULL
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats", "chats flagged closed upstream without a closed_at timestamp", ids), nil
		},
	},
	{
		name:     "chat_survey_without_close",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE poll_started_at IS NOT NULL
				  AND closed_at IS NULL AND NOT closed
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats", "chats that entered the post-close survey without ever closing", ids), nil
		},
	},
	{
		name:     "chat_poll_terminal_conflict",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE poll_completed_at IS NOT NULL AND poll_abandoned_at IS NOT NULL
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats", "chats marked both poll-completed and poll-abandoned", ids), nil
		},
	},
	{
		name:     "chat_poll_response_without_completion",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE poll_response IS NOT NULL AND status <> 'completed_poll'
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats",
				"chats carrying a poll response payload while not in completed_poll", ids), nil
		},
	},
	{
		name:     "chat_poll_terminal_without_start",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM chats
				WHERE (poll_completed_at IS NOT NULL OR poll_abandoned_at IS NOT NULL)
				  AND poll_started_at IS NULL
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats",
				"chats with a poll outcome timestamp but no poll_started_at", ids), nil
		},
	},
	{
		name:     "chat_stale_completing_poll",
		severity: models.SeverityWarning,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, fmt.Sprintf(`
				SELECT external_id FROM chats
				WHERE status = 'completing_poll'
				  AND poll_started_at < CURRENT_TIMESTAMP - INTERVAL %d HOUR
				ORDER BY external_id`, int(stalePollThreshold.Hours())))
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats",
				"surveys started beyond the resolution window without completing or abandoning", ids), nil
		},
	},
	{
		name:     "chat_stale_open",
		severity: models.SeverityWarning,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			hours := int(staleOpenThreshold.Hours())
			ids, err := e.queryIDs(ctx, fmt.Sprintf(`
				SELECT ch.external_id FROM chats ch
				WHERE ch.status IN ('bot_chatting', 'opened', 'picked_up', 'responded_by_agent')
				  AND ch.started_at < CURRENT_TIMESTAMP - INTERVAL %d HOUR
				  AND NOT EXISTS (
					SELECT 1 FROM messages m
					WHERE m.chat_external_id = ch.external_id
					  AND m.sent_at > CURRENT_TIMESTAMP - INTERVAL %d HOUR)
				ORDER BY ch.external_id`, hours, hours))
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats",
				"chats still open with no recent messages, likely abandoned upstream without a close event", ids), nil
		},
	},
	{
		name:     "chat_missing_contact",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT ch.external_id FROM chats ch
				LEFT JOIN contacts co ON co.id = ch.contact_id
				WHERE co.id IS NULL
				ORDER BY ch.external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats", "chats referencing a contact row that does not exist", ids), nil
		},
	},
	{
		name:     "chat_missing_agent",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT ch.external_id FROM chats ch
				LEFT JOIN agents a ON a.id = ch.agent_id
				WHERE ch.agent_id IS NOT NULL AND a.id IS NULL
				ORDER BY ch.external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "chats", "chats referencing an agent row that does not exist", ids), nil
		},
	},
	{
		name:     "message_orphaned",
		severity: models.SeverityError,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT DISTINCT m.chat_external_id FROM messages m
				LEFT JOIN chats ch ON ch.id = m.chat_id
				WHERE ch.id IS NULL
				ORDER BY m.chat_external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "messages", "messages whose chat row does not exist", ids), nil
		},
	},
	{
		name:     "message_ordinal_gap",
		severity: models.SeverityWarning,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT chat_external_id FROM messages
				GROUP BY chat_external_id
				HAVING MAX(ordinal) + 1 <> COUNT(*)
				ORDER BY chat_external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "messages",
				"chats whose message ordinals have gaps, meaning part of the conversation is missing", ids), nil
		},
	},
	{
		name:     "message_long_gap",
		severity: models.SeverityInfo,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT DISTINCT chat_external_id FROM (
					SELECT chat_external_id,
						sent_at - LAG(sent_at) OVER (PARTITION BY chat_external_id ORDER BY ordinal) AS gap
					FROM messages
				) WHERE gap > INTERVAL 24 HOUR
				ORDER BY chat_external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "messages",
				"chats containing a gap of more than 24 hours between consecutive messages", ids), nil
		},
	},
	{
		name:     "reference_stub_backlog",
		severity: models.SeverityInfo,
		run: func(ctx context.Context, e *Engine, c check) (*models.ValidationIssue, error) {
			ids, err := e.queryIDs(ctx, `
				SELECT external_id FROM agents WHERE needs_full_sync
				UNION ALL
				SELECT external_id FROM departments WHERE needs_full_sync
				ORDER BY external_id`)
			if err != nil {
				return nil, err
			}
			return sampledIssue(c, "agents",
				"agent and department stubs created from chat references, awaiting a full sync for details", ids), nil
		},
	},
}
