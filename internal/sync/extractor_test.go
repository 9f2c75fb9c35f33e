// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/database"
	"github.com/chatfunnel/chatfunnel/internal/models"
	"github.com/chatfunnel/chatfunnel/internal/models/conversa"
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

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		BatchSize:     100,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

// fakeClient serves canned pages and can be told to fail specific offsets.
type fakeClient struct {
	pages      [][]string  // records per page, in order
	failOffset map[int]int // offset -> remaining failures
	calls      int
}

func (f *fakeClient) Ping(_ context.Context) error { return nil }

func (f *fakeClient) FetchContactsPage(_ context.Context, offset, _ int, _ *time.Time) (*conversa.Page, error) {
	return f.page(offset)
}

func (f *fakeClient) FetchChatsPage(_ context.Context, offset, _ int, _ *time.Time) (*conversa.Page, error) {
	return f.page(offset)
}

func (f *fakeClient) page(offset int) (*conversa.Page, error) {
	f.calls++
	if remaining := f.failOffset[offset]; remaining > 0 {
		f.failOffset[offset] = remaining - 1
		return nil, errors.New("upstream hiccup")
	}

	total := 0
	for _, p := range f.pages {
		total += len(p)
	}

	seen := 0
	for _, p := range f.pages {
		if seen == offset {
			raw := make([]json.RawMessage, len(p))
			for i, r := range p {
				raw[i] = json.RawMessage(r)
			}
			return &conversa.Page{Data: raw, Total: total, Offset: offset, Limit: len(p)}, nil
		}
		seen += len(p)
	}
	return &conversa.Page{Total: total, Offset: offset}, nil
}

func TestExtract_PaginatesAndStages(t *testing.T) {
	db := setupTestDB(t)
	client := &fakeClient{
		pages: [][]string{
			{`{"id":"c-1"}`, `{"id":"c-2"}`},
			{`{"id":"c-3"}`, `{"id":"c-4"}`},
			{`{"id":"c-5"}`},
		},
	}
	e := NewExtractor(client, db, testSyncConfig(), 2)

	result, err := e.Extract(context.Background(), models.EntityContacts, uuid.New(), nil)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Pages != 3 || result.Staged != 5 {
		t.Errorf("Expected 3 pages / 5 staged, got %+v", result)
	}

	pending, err := db.PendingCount(context.Background(), models.EntityContacts)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 5 {
		t.Errorf("Expected 5 pending staging records, got %d", pending)
	}
}

func TestExtract_RecordsReplayCoordinates(t *testing.T) {
	db := setupTestDB(t)
	client := &fakeClient{
		pages: [][]string{
			{`{"id":"c-1"}`, `{"id":"c-2"}`},
			{`{"id":"c-3"}`},
		},
	}
	e := NewExtractor(client, db, testSyncConfig(), 2)

	if _, err := e.Extract(context.Background(), models.EntityContacts, uuid.New(), nil); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Every staged record remembers the page and absolute offset it came
	// from, so a payload can be traced back to its upstream request.
	expected := map[string][2]int{
		"c-1": {1, 0},
		"c-2": {1, 1},
		"c-3": {2, 2},
	}
	for externalID, want := range expected {
		var page, offset int
		err := db.Conn().QueryRowContext(context.Background(), `
			SELECT api_page, api_offset FROM staging_records
			WHERE external_id = ?`, externalID).Scan(&page, &offset)
		if err != nil {
			t.Fatalf("Failed to query record %s: %v", externalID, err)
		}
		if page != want[0] || offset != want[1] {
			t.Errorf("Expected %s at page %d offset %d, got page %d offset %d",
				externalID, want[0], want[1], page, offset)
		}
	}
}

func TestExtract_RetriesTransientFailure(t *testing.T) {
	db := setupTestDB(t)
	client := &fakeClient{
		pages:      [][]string{{`{"id":"c-1"}`}, {`{"id":"c-2"}`}},
		failOffset: map[int]int{1: 1}, // second page fails once, then succeeds
	}
	e := NewExtractor(client, db, testSyncConfig(), 1)

	result, err := e.Extract(context.Background(), models.EntityContacts, uuid.New(), nil)
	if err != nil {
		t.Fatalf("Expected retry to recover, got: %v", err)
	}
	if result.Staged != 2 {
		t.Errorf("Expected both records staged, got %+v", result)
	}
}

func TestExtract_PageFailurePreservesEarlierPages(t *testing.T) {
	db := setupTestDB(t)
	cfg := testSyncConfig()
	client := &fakeClient{
		pages:      [][]string{{`{"id":"ch-1"}`, `{"id":"ch-2"}`}, {`{"id":"ch-3"}`}},
		failOffset: map[int]int{2: cfg.RetryAttempts}, // exhausts every retry
	}
	e := NewExtractor(client, db, cfg, 2)

	result, err := e.Extract(context.Background(), models.EntityChats, uuid.New(), nil)
	if err == nil {
		t.Fatal("Expected extract to fail on the second page")
	}
	if result.Pages != 1 || result.Staged != 2 {
		t.Errorf("Expected first page preserved in result, got %+v", result)
	}

	// Page one is durable despite the failure.
	pending, err := db.PendingCount(context.Background(), models.EntityChats)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 2 {
		t.Errorf("Expected 2 staged records from the successful page, got %d", pending)
	}
}

func TestExtract_SyntheticIDForUnparseableRecord(t *testing.T) {
	db := setupTestDB(t)
	client := &fakeClient{
		pages: [][]string{{`{"id":"c-1"}`, `{"name":"no id here"}`}},
	}
	e := NewExtractor(client, db, testSyncConfig(), 2)

	result, err := e.Extract(context.Background(), models.EntityContacts, uuid.New(), nil)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Staged != 2 {
		t.Errorf("Expected record without id staged under synthetic id, got %+v", result)
	}

	var synthetic int
	err = db.Conn().QueryRowContext(context.Background(), `
		SELECT COUNT(*) FROM staging_records
		WHERE external_id LIKE 'unparsed-%'`).Scan(&synthetic)
	if err != nil {
		t.Fatalf("Failed to count synthetic records: %v", err)
	}
	if synthetic != 1 {
		t.Errorf("Expected 1 synthetic external_id, got %d", synthetic)
	}
}

func TestExtract_Cancellation(t *testing.T) {
	db := setupTestDB(t)
	client := &fakeClient{pages: [][]string{{`{"id":"c-1"}`}}}
	e := NewExtractor(client, db, testSyncConfig(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, models.EntityContacts, uuid.New(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	db := setupTestDB(t)
	e := NewExtractor(&fakeClient{}, db, testSyncConfig(), 1)

	attempts := 0
	err := e.retryWithBackoff(context.Background(), models.EntityContacts, func() error {
		attempts++
		return fmt.Errorf("attempt %d failed", attempts)
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}
