// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package api exposes the management HTTP surface: sync triggering and
// status, staging maintenance, and validation reports.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/models"
	"github.com/chatfunnel/chatfunnel/internal/validation"
)

// SyncManager is the slice of sync.Manager the handlers depend on.
// The interface keeps handlers testable with a fake manager.
type SyncManager interface {
	TriggerSync(entity models.EntityType, fullSync bool) (string, error)
	StagingStatus(ctx context.Context) (map[models.EntityType]map[string]int, error)
	ResetFailedStaging(ctx context.Context, entity models.EntityType, force bool) (int, error)
}

// Store is the slice of database.DB the handlers read from.
type Store interface {
	Ping(ctx context.Context) error
	GetSyncState(ctx context.Context, id uuid.UUID) (*models.SyncState, error)
	LatestSyncState(ctx context.Context, entity models.EntityType) (*models.SyncState, error)
	GetValidationReport(ctx context.Context, syncRunID uuid.UUID) (*models.ValidationReport, error)
	EntityCounts(ctx context.Context) (map[string]int, error)
}

// Handlers holds the HTTP handler set.
type Handlers struct {
	manager SyncManager
	store   Store
}

// NewHandlers creates the handler set.
func NewHandlers(manager SyncManager, store Store) *Handlers {
	return &Handlers{manager: manager, store: store}
}

// apiError is the error response envelope.
type apiError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// triggerRequest are the validated query parameters of POST /sync.
type triggerRequest struct {
	Entity   string `validate:"required,oneof=contacts chats all"`
	FullSync bool
}

// resetRequest are the validated query parameters of POST /staging/reset.
type resetRequest struct {
	Entity string `validate:"required,oneof=contacts chats"`
}

// triggeredRun identifies one enqueued sync request in the 202 response.
type triggeredRun struct {
	Entity    string `json:"entity"`
	RequestID string `json:"requestId"`
}

// HandleTriggerSync handles POST /api/v1/sync?entity=&full_sync=.
// entity=all fans out to every entity type. The request only enqueues the
// run; 202 means accepted, not finished, and the returned request IDs
// correlate with worker logs.
func (h *Handlers) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	req := triggerRequest{
		Entity:   r.URL.Query().Get("entity"),
		FullSync: parseBool(r.URL.Query().Get("full_sync")),
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	entities := []models.EntityType{models.EntityType(req.Entity)}
	if req.Entity == "all" {
		entities = []models.EntityType{models.EntityContacts, models.EntityChats}
	}

	requests := make([]triggeredRun, 0, len(entities))
	for _, entity := range entities {
		requestID, err := h.manager.TriggerSync(entity, req.FullSync)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "SYNC_TRIGGER_FAILED", err.Error(), nil)
			return
		}
		requests = append(requests, triggeredRun{Entity: string(entity), RequestID: requestID})
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"fullSync": req.FullSync,
		"requests": requests,
	})
}

// HandleSyncStatus handles GET /api/v1/sync/status: staging counts, entity
// counts, and the latest run per entity type.
func (h *Handlers) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	staging, err := h.manager.StagingStatus(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STATUS_FAILED", err.Error(), nil)
		return
	}
	entities, err := h.store.EntityCounts(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STATUS_FAILED", err.Error(), nil)
		return
	}

	latest := make(map[string]*models.SyncState)
	for _, entity := range []models.EntityType{models.EntityContacts, models.EntityChats} {
		state, err := h.store.LatestSyncState(ctx, entity)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "STATUS_FAILED", err.Error(), nil)
			return
		}
		latest[string(entity)] = state
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"staging":    staging,
		"entities":   entities,
		"latestRuns": latest,
	})
}

// HandleGetSyncRun handles GET /api/v1/sync/runs/{id}.
func (h *Handlers) HandleGetSyncRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id must be a valid UUID", nil)
		return
	}

	state, err := h.store.GetSyncState(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error(), nil)
		return
	}
	if state == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no sync run with that id", nil)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleResetStaging handles POST /api/v1/staging/reset?entity=&force=.
// Failed records return to pending; force overrides the attempt ceiling.
func (h *Handlers) HandleResetStaging(w http.ResponseWriter, r *http.Request) {
	req := resetRequest{Entity: r.URL.Query().Get("entity")}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}
	force := parseBool(r.URL.Query().Get("force"))

	reset, err := h.manager.ResetFailedStaging(r.Context(), models.EntityType(req.Entity), force)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "RESET_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity": req.Entity,
		"reset":  reset,
		"force":  force,
	})
}

// HandleGetValidationReport handles GET /api/v1/validation/{runId}: the
// data-quality report produced by that sync run.
func (h *Handlers) HandleGetValidationReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "runId must be a valid UUID", nil)
		return
	}

	report, err := h.store.GetValidationReport(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error(), nil)
		return
	}
	if report == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no validation report for that sync run", nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleHealthz handles GET /healthz with a database liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "UNHEALTHY", "database unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"error": apiError{Code: code, Message: message, Details: details},
	})
}
