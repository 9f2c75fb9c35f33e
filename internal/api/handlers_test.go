// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/models"
)

type fakeManager struct {
	triggered []models.EntityType
	fullSync  bool
	resetN    int
	err       error
}

func (f *fakeManager) TriggerSync(entity models.EntityType, fullSync bool) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.triggered = append(f.triggered, entity)
	f.fullSync = fullSync
	return "req-" + string(entity), nil
}

func (f *fakeManager) StagingStatus(_ context.Context) (map[models.EntityType]map[string]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[models.EntityType]map[string]int{
		models.EntityContacts: {"pending": 0, "processing": 0, "completed": 10, "failed": 1},
	}, nil
}

func (f *fakeManager) ResetFailedStaging(_ context.Context, _ models.EntityType, _ bool) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.resetN, nil
}

type fakeStore struct {
	pingErr error
	state   *models.SyncState
	report  *models.ValidationReport
}

func (f *fakeStore) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeStore) GetSyncState(_ context.Context, id uuid.UUID) (*models.SyncState, error) {
	if f.state != nil && f.state.ID == id {
		return f.state, nil
	}
	return nil, nil
}

func (f *fakeStore) LatestSyncState(_ context.Context, _ models.EntityType) (*models.SyncState, error) {
	return f.state, nil
}

func (f *fakeStore) GetValidationReport(_ context.Context, runID uuid.UUID) (*models.ValidationReport, error) {
	if f.report != nil && f.report.SyncRunID == runID {
		return f.report, nil
	}
	return nil, nil
}

func (f *fakeStore) EntityCounts(_ context.Context) (map[string]int, error) {
	return map[string]int{"contacts": 10, "chats": 5, "messages": 40}, nil
}

func newTestRouter(manager *fakeManager, store *fakeStore) http.Handler {
	cfg := &config.ServerConfig{CORSOrigins: []string{"*"}}
	return NewRouter(cfg, NewHandlers(manager, store))
}

func doRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type triggerResponse struct {
	Accepted bool `json:"accepted"`
	FullSync bool `json:"fullSync"`
	Requests []struct {
		Entity    string `json:"entity"`
		RequestID string `json:"requestId"`
	} `json:"requests"`
}

func TestHandleTriggerSync(t *testing.T) {
	manager := &fakeManager{}
	router := newTestRouter(manager, &fakeStore{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sync?entity=chats&full_sync=true")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(manager.triggered) != 1 || manager.triggered[0] != models.EntityChats {
		t.Errorf("Expected chats sync triggered, got %v", manager.triggered)
	}
	if !manager.fullSync {
		t.Error("Expected full_sync to pass through")
	}

	var body triggerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(body.Requests) != 1 || body.Requests[0].RequestID == "" {
		t.Errorf("Expected one request with an id, got %+v", body.Requests)
	}
}

func TestHandleTriggerSync_AllEntities(t *testing.T) {
	manager := &fakeManager{}
	router := newTestRouter(manager, &fakeStore{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sync?entity=all")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(manager.triggered) != 2 {
		t.Fatalf("Expected both entity types triggered, got %v", manager.triggered)
	}
	if manager.triggered[0] != models.EntityContacts || manager.triggered[1] != models.EntityChats {
		t.Errorf("Expected contacts then chats, got %v", manager.triggered)
	}

	var body triggerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(body.Requests) != 2 {
		t.Fatalf("Expected 2 requests in response, got %+v", body.Requests)
	}
	for _, req := range body.Requests {
		if req.RequestID == "" {
			t.Errorf("Expected request id for %s", req.Entity)
		}
	}
}

func TestHandleTriggerSync_InvalidEntity(t *testing.T) {
	manager := &fakeManager{}
	router := newTestRouter(manager, &fakeStore{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sync?entity=widgets")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if len(manager.triggered) != 0 {
		t.Error("Expected no sync triggered for invalid entity")
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR code, got %s", body.Error.Code)
	}
}

func TestHandleTriggerSync_MissingEntity(t *testing.T) {
	router := newTestRouter(&fakeManager{}, &fakeStore{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sync")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestHandleSyncStatus(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	store := &fakeStore{state: &models.SyncState{
		ID:         uuid.New(),
		EntityType: models.EntityContacts,
		Status:     models.SyncCompleted,
		StartedAt:  started,
	}}
	router := newTestRouter(&fakeManager{}, store)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/sync/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Staging  map[string]map[string]int `json:"staging"`
		Entities map[string]int            `json:"entities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Entities["contacts"] != 10 {
		t.Errorf("Expected 10 contacts in status, got %d", body.Entities["contacts"])
	}
	if body.Staging["contacts"]["failed"] != 1 {
		t.Errorf("Expected 1 failed staging record, got %v", body.Staging)
	}
}

func TestHandleGetSyncRun(t *testing.T) {
	state := &models.SyncState{
		ID:         uuid.New(),
		EntityType: models.EntityChats,
		Status:     models.SyncCompleted,
		StartedAt:  time.Now().UTC(),
	}
	router := newTestRouter(&fakeManager{}, &fakeStore{state: state})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/sync/runs/"+state.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/sync/runs/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/sync/runs/not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestHandleResetStaging(t *testing.T) {
	manager := &fakeManager{resetN: 4}
	router := newTestRouter(manager, &fakeStore{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/staging/reset?entity=contacts&force=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Reset int  `json:"reset"`
		Force bool `json:"force"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Reset != 4 || !body.Force {
		t.Errorf("Unexpected reset response: %+v", body)
	}

	// all fans out for triggers only; a reset needs one entity type.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/staging/reset?entity=all")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for entity=all on reset, got %d", rec.Code)
	}
}

func TestHandleGetValidationReport(t *testing.T) {
	runID := uuid.New()
	report := &models.ValidationReport{
		ID:         uuid.New(),
		SyncRunID:  runID,
		EntityType: models.EntityChats,
		RanAt:      time.Now().UTC(),
		ChecksRun:  11,
	}
	router := newTestRouter(&fakeManager{}, &fakeStore{report: report})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/validation/"+runID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/validation/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	router := newTestRouter(&fakeManager{}, &fakeStore{})
	rec := doRequest(t, router, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	router = newTestRouter(&fakeManager{}, &fakeStore{pingErr: errors.New("closed")})
	rec = doRequest(t, router, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when database is down, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&fakeManager{}, &fakeStore{})
	rec := doRequest(t, router, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("Expected Prometheus exposition output")
	}
}
