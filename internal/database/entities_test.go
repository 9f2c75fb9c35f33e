// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/models"
)

func TestUpsertContact_InsertThenUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := &models.Contact{
		ExternalID: "visitor-1",
		Name:       "Ada Lovelace",
		Email:      "ada@example.com",
	}

	id, created, err := db.UpsertContact(ctx, contact)
	if err != nil {
		t.Fatalf("UpsertContact (insert) failed: %v", err)
	}
	if !created {
		t.Error("Expected created=true on first upsert")
	}
	if id == uuid.Nil {
		t.Error("Expected non-nil contact ID")
	}

	contact.Name = "Ada L."
	id2, created, err := db.UpsertContact(ctx, contact)
	if err != nil {
		t.Fatalf("UpsertContact (update) failed: %v", err)
	}
	if created {
		t.Error("Expected created=false on second upsert")
	}
	if id2 != id {
		t.Errorf("Expected stable ID across upserts, got %s then %s", id, id2)
	}

	got, err := db.GetContactByExternalID(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("GetContactByExternalID failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected contact to exist")
	}
	if got.Name != "Ada L." {
		t.Errorf("Expected updated name, got %q", got.Name)
	}
}

func TestGetContactByExternalID_Missing(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetContactByExternalID(context.Background(), "no-such-contact")
	if err != nil {
		t.Fatalf("GetContactByExternalID failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing contact, got %+v", got)
	}
}

func TestEnsureAgentStub(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := db.EnsureAgentStub(ctx, "agent-42")
	if err != nil {
		t.Fatalf("EnsureAgentStub failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("Expected non-nil stub ID")
	}

	var needsFullSync bool
	err = db.Conn().QueryRowContext(ctx,
		`SELECT needs_full_sync FROM agents WHERE external_id = ?`, "agent-42").Scan(&needsFullSync)
	if err != nil {
		t.Fatalf("Failed to query stub: %v", err)
	}
	if !needsFullSync {
		t.Error("Expected stub to be flagged needs_full_sync")
	}

	// A second ensure resolves to the same row.
	id2, err := db.EnsureAgentStub(ctx, "agent-42")
	if err != nil {
		t.Fatalf("EnsureAgentStub (second) failed: %v", err)
	}
	if id2 != id {
		t.Errorf("Expected stable stub ID, got %s then %s", id, id2)
	}
}

func TestUpsertChat_WithMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contactID, _, err := db.UpsertContact(ctx, &models.Contact{ExternalID: "visitor-2", Name: "Bob"})
	if err != nil {
		t.Fatalf("UpsertContact failed: %v", err)
	}

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	opened := started.Add(time.Minute)
	chat := &models.Chat{
		ExternalID: "chat-100",
		ContactID:  contactID,
		Status:     models.StatusOpened,
		StartedAt:  started,
		OpenedAt:   &opened,
	}

	chatID, created, err := db.UpsertChat(ctx, chat)
	if err != nil {
		t.Fatalf("UpsertChat failed: %v", err)
	}
	if !created {
		t.Error("Expected created=true for new chat")
	}

	// Three messages share a timestamp; ordinal keeps them distinct.
	sent := started.Add(2 * time.Minute)
	msgs := []models.Message{
		{ChatID: chatID, ChatExternalID: "chat-100", Ordinal: 0, Sender: "bot", SenderType: "bot", Body: "hello", SentAt: started},
		{ChatID: chatID, ChatExternalID: "chat-100", Ordinal: 1, Sender: "visitor-2", SenderType: "contact", Body: "hi", SentAt: sent},
		{ChatID: chatID, ChatExternalID: "chat-100", Ordinal: 2, Sender: "visitor-2", SenderType: "contact", Body: "again", SentAt: sent},
		{ChatID: chatID, ChatExternalID: "chat-100", Ordinal: 3, Sender: "visitor-2", SenderType: "contact", Body: "third", SentAt: sent},
	}
	if err := db.UpsertMessages(ctx, msgs); err != nil {
		t.Fatalf("UpsertMessages failed: %v", err)
	}

	got, err := db.MessagesForChat(ctx, "chat-100")
	if err != nil {
		t.Fatalf("MessagesForChat failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.Ordinal != i {
			t.Errorf("Expected ordinal %d at position %d, got %d", i, i, m.Ordinal)
		}
	}

	// Re-upserting the array rewrites in place, no duplicates.
	msgs[1].Body = "hi (edited)"
	if err := db.UpsertMessages(ctx, msgs); err != nil {
		t.Fatalf("UpsertMessages (re-sync) failed: %v", err)
	}
	got, err = db.MessagesForChat(ctx, "chat-100")
	if err != nil {
		t.Fatalf("MessagesForChat failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Expected 4 messages after re-sync, got %d", len(got))
	}
	if got[1].Body != "hi (edited)" {
		t.Errorf("Expected re-sync to overwrite body, got %q", got[1].Body)
	}
}

func TestUpsertChat_UpdateOverwritesDerivedFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contactID, _, err := db.UpsertContact(ctx, &models.Contact{ExternalID: "visitor-3"})
	if err != nil {
		t.Fatalf("UpsertContact failed: %v", err)
	}

	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	chat := &models.Chat{
		ExternalID: "chat-200",
		ContactID:  contactID,
		Status:     models.StatusBotChatting,
		StartedAt:  started,
	}
	id, _, err := db.UpsertChat(ctx, chat)
	if err != nil {
		t.Fatalf("UpsertChat (insert) failed: %v", err)
	}

	closedAt := started.Add(time.Hour)
	chat.Status = models.StatusClosed
	chat.Closed = true
	chat.ClosedAt = &closedAt
	chat.PollResponse = []byte(`{"rating":5}`)

	id2, created, err := db.UpsertChat(ctx, chat)
	if err != nil {
		t.Fatalf("UpsertChat (update) failed: %v", err)
	}
	if created || id2 != id {
		t.Errorf("Expected update of existing chat, created=%v id=%s id2=%s", created, id, id2)
	}

	got, err := db.GetChatByExternalID(ctx, "chat-200")
	if err != nil {
		t.Fatalf("GetChatByExternalID failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected chat to exist")
	}
	if got.Status != models.StatusClosed {
		t.Errorf("Expected status closed, got %s", got.Status)
	}
	if !got.Closed {
		t.Error("Expected closed flag set")
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(closedAt) {
		t.Errorf("Expected closed_at %v, got %v", closedAt, got.ClosedAt)
	}
	if len(got.PollResponse) == 0 {
		t.Error("Expected poll response to round-trip")
	}
}
