// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package transform normalizes staged raw payloads into entity rows.
//
// Transformation is batch-oriented and idempotent: a batch of pending
// staging records is claimed, each record is decoded and upserted by its
// external ID, and the record is marked completed or failed individually.
// One malformed payload never poisons its batch, and replaying a completed
// record converges to the same rows.
package transform

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/database"
	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/metrics"
	"github.com/chatfunnel/chatfunnel/internal/models"
	"github.com/chatfunnel/chatfunnel/internal/models/conversa"
)

// errSkipRecord marks a payload that decodes but carries nothing to
// normalize (e.g. a contact with an empty ID). Skipped records complete
// without touching entity tables.
var errSkipRecord = errors.New("record skipped")

// BatchResult summarizes one transform batch.
type BatchResult struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Failed    int
}

// Transformer drains staging batches into normalized entities.
type Transformer struct {
	db        *database.DB
	batchSize int
}

// NewTransformer creates a transformer reading and writing through db.
func NewTransformer(db *database.DB, batchSize int) *Transformer {
	return &Transformer{db: db, batchSize: batchSize}
}

// ProcessBatch claims one batch of pending records and transforms each in
// isolation. The returned counts cover the whole batch even when some
// records fail; err is non-nil only for infrastructure failures (claiming
// or bookkeeping), not per-record ones.
func (t *Transformer) ProcessBatch(ctx context.Context, entity models.EntityType) (BatchResult, error) {
	var result BatchResult

	batch, err := t.db.ClaimPendingBatch(ctx, entity, t.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to claim batch: %w", err)
	}
	if len(batch) == 0 {
		return result, nil
	}

	start := time.Now()
	metrics.TransformBatchSize.Observe(float64(len(batch)))

	for i := range batch {
		rec := &batch[i]
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		created, err := t.transformRecord(ctx, rec)
		switch {
		case errors.Is(err, errSkipRecord):
			result.Skipped++
			metrics.TransformRecords.WithLabelValues(string(entity), "skipped").Inc()
			if markErr := t.db.MarkCompleted(ctx, rec.ID); markErr != nil {
				return result, markErr
			}

		case err != nil:
			result.Failed++
			metrics.TransformRecords.WithLabelValues(string(entity), "failed").Inc()
			logging.Warn().
				Err(err).
				Str("entity", string(entity)).
				Str("external_id", rec.ExternalID).
				Int("attempts", rec.Attempts+1).
				Msg("Record transform failed")
			if markErr := t.db.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
				return result, markErr
			}

		default:
			if created {
				result.Created++
				metrics.TransformRecords.WithLabelValues(string(entity), "created").Inc()
			} else {
				result.Updated++
				metrics.TransformRecords.WithLabelValues(string(entity), "updated").Inc()
			}
			if markErr := t.db.MarkCompleted(ctx, rec.ID); markErr != nil {
				return result, markErr
			}
		}
		result.Processed++
	}

	metrics.TransformBatchDuration.WithLabelValues(string(entity)).Observe(time.Since(start).Seconds())
	return result, nil
}

func (t *Transformer) transformRecord(ctx context.Context, rec *models.StagingRecord) (created bool, err error) {
	switch rec.EntityType {
	case models.EntityContacts:
		return t.transformContact(ctx, rec)
	case models.EntityChats:
		return t.transformChat(ctx, rec)
	default:
		return false, fmt.Errorf("unknown entity type %q", rec.EntityType)
	}
}

func (t *Transformer) transformContact(ctx context.Context, rec *models.StagingRecord) (bool, error) {
	var payload conversa.ContactPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return false, fmt.Errorf("failed to decode contact payload: %w", err)
	}
	if payload.ID == "" {
		return false, fmt.Errorf("contact payload has no id: %w", errSkipRecord)
	}

	_, created, err := t.db.UpsertContact(ctx, &models.Contact{
		ExternalID: payload.ID,
		Name:       payload.Name,
		Email:      payload.Email,
		Phone:      payload.Phone,
	})
	return created, err
}

// transformChat normalizes one chat payload: the chat row with its derived
// status, stub rows for referenced agents and departments, and the full
// message array keyed by ordinal.
func (t *Transformer) transformChat(ctx context.Context, rec *models.StagingRecord) (bool, error) {
	var payload conversa.ChatPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return false, fmt.Errorf("failed to decode chat payload: %w", err)
	}
	if payload.ID == "" {
		return false, fmt.Errorf("chat payload has no id: %w", errSkipRecord)
	}
	if payload.ContactID == "" {
		return false, fmt.Errorf("chat %s has no contact_id", payload.ID)
	}

	// The contact may not have synced yet (chats can sync first, or the
	// contact page that carries it may have failed). A stub keeps the
	// reference intact; the next contacts sync fills it in.
	contactID, err := t.resolveContact(ctx, payload.ContactID)
	if err != nil {
		return false, err
	}

	var agentID, departmentID *uuid.UUID
	if payload.AgentID != "" {
		id, err := t.db.EnsureAgentStub(ctx, payload.AgentID)
		if err != nil {
			return false, err
		}
		agentID = &id
	}
	if payload.DepartmentID != "" {
		id, err := t.db.EnsureDepartmentStub(ctx, payload.DepartmentID)
		if err != nil {
			return false, err
		}
		departmentID = &id
	}

	status := DeriveStatus(Timestamps{
		OpenedAt:        payload.OpenedAt,
		PickedUpAt:      payload.PickedUpAt,
		ResponseAt:      payload.ResponseAt,
		ClosedAt:        payload.ClosedAt,
		PollStartedAt:   payload.PollStartedAt,
		PollCompletedAt: payload.PollCompletedAt,
		PollAbandonedAt: payload.PollAbandonedAt,
	}, payload.Closed)

	chatID, created, err := t.db.UpsertChat(ctx, &models.Chat{
		ExternalID:      payload.ID,
		ContactID:       contactID,
		AgentID:         agentID,
		DepartmentID:    departmentID,
		Status:          status,
		Closed:          payload.Closed,
		StartedAt:       payload.StartedAt,
		OpenedAt:        payload.OpenedAt,
		PickedUpAt:      payload.PickedUpAt,
		ResponseAt:      payload.ResponseAt,
		ClosedAt:        payload.ClosedAt,
		PollStartedAt:   payload.PollStartedAt,
		PollCompletedAt: payload.PollCompletedAt,
		PollAbandonedAt: payload.PollAbandonedAt,
		PollResponse:    payload.PollResponse,
	})
	if err != nil {
		return false, err
	}

	if len(payload.Messages) > 0 {
		msgs := make([]models.Message, len(payload.Messages))
		for i, mp := range payload.Messages {
			msgs[i] = models.Message{
				ChatID:         chatID,
				ChatExternalID: payload.ID,
				Ordinal:        i,
				Sender:         mp.Sender,
				SenderType:     mp.SenderType,
				Body:           mp.Body,
				SentAt:         mp.SentAt,
			}
		}
		if err := t.db.UpsertMessages(ctx, msgs); err != nil {
			return false, err
		}
	}

	return created, nil
}

// resolveContact returns the contact row UUID, creating a placeholder
// contact when the external ID is unknown.
func (t *Transformer) resolveContact(ctx context.Context, externalID string) (uuid.UUID, error) {
	existing, err := t.db.GetContactByExternalID(ctx, externalID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	id, _, err := t.db.UpsertContact(ctx, &models.Contact{ExternalID: externalID})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create contact placeholder %s: %w", externalID, err)
	}
	return id, nil
}
