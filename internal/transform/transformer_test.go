// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package transform

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/database"
	"github.com/chatfunnel/chatfunnel/internal/models"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func stage(t *testing.T, db *database.DB, entity models.EntityType, externalID, payload string) {
	t.Helper()

	_, err := db.InsertStagingRecords(context.Background(), []models.StagingRecord{{
		EntityType: entity,
		ExternalID: externalID,
		SyncRunID:  uuid.New(),
		Payload:    []byte(payload),
	}})
	if err != nil {
		t.Fatalf("Failed to stage %s %s: %v", entity, externalID, err)
	}
}

func TestProcessBatch_Contacts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tr := NewTransformer(db, 10)

	stage(t, db, models.EntityContacts, "c-1", `{"id":"c-1","name":"Ada","email":"ada@example.com"}`)
	stage(t, db, models.EntityContacts, "c-2", `{"id":"c-2","name":"Bob"}`)

	result, err := tr.ProcessBatch(ctx, models.EntityContacts)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Processed != 2 || result.Created != 2 {
		t.Errorf("Expected 2 created, got %+v", result)
	}

	got, err := db.GetContactByExternalID(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetContactByExternalID failed: %v", err)
	}
	if got == nil || got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Errorf("Unexpected contact row: %+v", got)
	}
}

func TestProcessBatch_ChatWithMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tr := NewTransformer(db, 10)

	// Three of the five messages share a timestamp; ordinal identity must
	// keep all five.
	payload := `{
		"id": "chat-1",
		"contact_id": "c-1",
		"agent_id": "a-1",
		"department_id": "d-1",
		"closed": true,
		"started_at": "2026-03-01T09:00:00Z",
		"opened_at": "2026-03-01T09:01:00Z",
		"picked_up_at": "2026-03-01T09:02:00Z",
		"response_at": "2026-03-01T09:03:00Z",
		"closed_at": "2026-03-01T09:30:00Z",
		"messages": [
			{"sender": "bot", "sender_type": "bot", "body": "hi", "sent_at": "2026-03-01T09:00:00Z"},
			{"sender": "c-1", "sender_type": "contact", "body": "hello", "sent_at": "2026-03-01T09:01:00Z"},
			{"sender": "a-1", "sender_type": "agent", "body": "one", "sent_at": "2026-03-01T09:03:00Z"},
			{"sender": "a-1", "sender_type": "agent", "body": "two", "sent_at": "2026-03-01T09:03:00Z"},
			{"sender": "a-1", "sender_type": "agent", "body": "three", "sent_at": "2026-03-01T09:03:00Z"}
		]
	}`
	stage(t, db, models.EntityChats, "chat-1", payload)

	result, err := tr.ProcessBatch(ctx, models.EntityChats)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Created != 1 {
		t.Errorf("Expected 1 chat created, got %+v", result)
	}

	chat, err := db.GetChatByExternalID(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetChatByExternalID failed: %v", err)
	}
	if chat == nil {
		t.Fatal("Expected chat row")
	}
	if chat.Status != models.StatusClosed {
		t.Errorf("Expected derived status closed, got %s", chat.Status)
	}
	if chat.AgentID == nil || chat.DepartmentID == nil {
		t.Error("Expected agent and department references resolved to stubs")
	}

	// The referenced contact did not exist; a placeholder was minted.
	contact, err := db.GetContactByExternalID(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetContactByExternalID failed: %v", err)
	}
	if contact == nil {
		t.Fatal("Expected placeholder contact")
	}
	if chat.ContactID != contact.ID {
		t.Error("Expected chat to reference the placeholder contact")
	}

	msgs, err := db.MessagesForChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("MessagesForChat failed: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages despite shared timestamps, got %d", len(msgs))
	}
	if msgs[3].Body != "two" {
		t.Errorf("Expected ordinal 3 body %q, got %q", "two", msgs[3].Body)
	}
}

func TestProcessBatch_IdempotentReplay(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tr := NewTransformer(db, 10)

	payload := `{
		"id": "chat-2",
		"contact_id": "c-9",
		"started_at": "2026-03-01T09:00:00Z",
		"opened_at": "2026-03-01T09:01:00Z",
		"messages": [
			{"sender": "bot", "sender_type": "bot", "body": "hi", "sent_at": "2026-03-01T09:00:00Z"}
		]
	}`
	stage(t, db, models.EntityChats, "chat-2", payload)
	if _, err := tr.ProcessBatch(ctx, models.EntityChats); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	// Stage the same payload again under a new run and re-transform.
	stage(t, db, models.EntityChats, "chat-2", payload)
	result, err := tr.ProcessBatch(ctx, models.EntityChats)
	if err != nil {
		t.Fatalf("ProcessBatch (replay) failed: %v", err)
	}
	if result.Updated != 1 || result.Created != 0 {
		t.Errorf("Expected replay to update, got %+v", result)
	}

	counts, err := db.EntityCounts(ctx)
	if err != nil {
		t.Fatalf("EntityCounts failed: %v", err)
	}
	if counts["chats"] != 1 {
		t.Errorf("Expected 1 chat after replay, got %d", counts["chats"])
	}
	if counts["messages"] != 1 {
		t.Errorf("Expected 1 message after replay, got %d", counts["messages"])
	}
}

func TestProcessBatch_FailureIsolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tr := NewTransformer(db, 10)

	stage(t, db, models.EntityContacts, "good-1", `{"id":"good-1","name":"Ada"}`)
	// Valid JSON that does not fit the contact shape: id must be a string.
	stage(t, db, models.EntityContacts, "unparsed-x", `{"id": 123, "name": "Mallory"}`)
	stage(t, db, models.EntityContacts, "no-id", `{"name":"ghost"}`)

	result, err := tr.ProcessBatch(ctx, models.EntityContacts)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Processed != 3 {
		t.Errorf("Expected all 3 records processed, got %d", result.Processed)
	}
	if result.Created != 1 || result.Failed != 1 || result.Skipped != 1 {
		t.Errorf("Expected 1 created, 1 failed, 1 skipped, got %+v", result)
	}

	counts, err := db.CountByStatus(ctx, models.EntityContacts)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts["completed"] != 2 || counts["failed"] != 1 {
		t.Errorf("Unexpected staging counts: %v", counts)
	}
}

func TestProcessBatch_EmptyQueue(t *testing.T) {
	db := setupTestDB(t)
	tr := NewTransformer(db, 10)

	result, err := tr.ProcessBatch(context.Background(), models.EntityChats)
	if err != nil {
		t.Fatalf("ProcessBatch on empty queue failed: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("Expected no records processed, got %d", result.Processed)
	}
}
