// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package sync orchestrates the extract-stage-transform-validate pipeline
// against the Conversa chat platform API.
//
// Pipeline stages per run:
//  1. Extract: page through the upstream collection, staging raw payloads
//  2. Transform: drain pending staging records into normalized entities
//  3. Validate: run the data-quality battery over the transformed output
//
// Runs are triggered through an in-process queue (HTTP API or the
// auto-sync ticker) and executed by a single worker, so at most one run
// per entity type is in flight at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/audit"
	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/database"
	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/metrics"
	"github.com/chatfunnel/chatfunnel/internal/models"
	"github.com/chatfunnel/chatfunnel/internal/transform"
)

// ErrSyncInProgress is returned when a sync for the same entity type is
// already running.
var ErrSyncInProgress = errors.New("sync already in progress for this entity")

// Manager owns the sync pipeline: it consumes trigger requests, sequences
// the stages of each run, and records run bookkeeping.
type Manager struct {
	cfg         *config.Config
	db          *database.DB
	client      ClientInterface
	extractor   *Extractor
	transformer *transform.Transformer
	auditor     *audit.Engine
	queue       *Queue

	runningMu gosync.Mutex
	running   map[models.EntityType]bool
}

// NewManager wires the pipeline components together.
func NewManager(cfg *config.Config, db *database.DB, client ClientInterface) *Manager {
	return &Manager{
		cfg:         cfg,
		db:          db,
		client:      client,
		extractor:   NewExtractor(client, db, &cfg.Sync, cfg.Conversa.PageSize),
		transformer: transform.NewTransformer(db, cfg.Sync.BatchSize),
		auditor:     audit.NewEngine(db),
		queue:       NewQueue(),
		running:     make(map[models.EntityType]bool),
	}
}

// TriggerSync enqueues a sync request without blocking on its execution
// and returns the request identifier callers can correlate with logs.
func (m *Manager) TriggerSync(entity models.EntityType, fullSync bool) (string, error) {
	if !entity.IsValid() {
		return "", fmt.Errorf("unknown entity type %q", entity)
	}
	return m.queue.Publish(SyncRequest{Entity: entity, FullSync: fullSync})
}

// Run is the queue worker loop. It consumes trigger requests and, when
// auto-sync is enabled, fires a full pipeline pass on the configured
// interval. Returns when ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	messages, err := m.queue.Subscribe(ctx)
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	if m.cfg.Sync.AutoSync {
		ticker := time.NewTicker(m.cfg.Sync.Interval)
		defer ticker.Stop()
		tick = ticker.C
		logging.Info().Dur("interval", m.cfg.Sync.Interval).Msg("Auto-sync enabled")

		// Initial pass on startup rather than waiting a full interval.
		m.runAll(ctx, m.cfg.Sync.FullSync)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			m.handleRequest(ctx, msg)

		case <-tick:
			m.runAll(ctx, false)
		}
	}
}

// Close releases the trigger queue.
func (m *Manager) Close() error {
	return m.queue.Close()
}

func (m *Manager) handleRequest(ctx context.Context, msg *message.Message) {
	// Always ack: a failed run is recorded in sync_states, and redelivery
	// would only repeat the same failure immediately.
	defer msg.Ack()

	var req SyncRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		logging.Error().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed sync request")
		return
	}

	if _, err := m.RunSync(ctx, req.Entity, req.FullSync); err != nil && !errors.Is(err, ErrSyncInProgress) {
		logging.Error().Err(err).Str("entity", string(req.Entity)).Msg("Sync run failed")
	}
}

// runAll syncs contacts before chats so chat payloads resolve against
// fresh contact rows instead of minting stubs.
func (m *Manager) runAll(ctx context.Context, fullSync bool) {
	for _, entity := range []models.EntityType{models.EntityContacts, models.EntityChats} {
		if _, err := m.RunSync(ctx, entity, fullSync); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logging.Error().Err(err).Str("entity", string(entity)).Msg("Scheduled sync failed")
		}
	}
}

// RunSync executes one full pipeline run for an entity type and returns
// its final state. Stage failures do not abort bookkeeping: everything
// staged before the failure stays durable, and the run is finalized as
// failed with the cause recorded.
func (m *Manager) RunSync(ctx context.Context, entity models.EntityType, fullSync bool) (*models.SyncState, error) {
	if !entity.IsValid() {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
	if !m.tryAcquire(entity) {
		return nil, ErrSyncInProgress
	}
	defer m.release(entity)

	start := time.Now()

	// Records stranded in processing by a crash go back to pending first,
	// so this run's transform loop picks them up.
	if swept, err := m.db.SweepStaleProcessing(ctx, m.cfg.Sync.StaleProcessingAfter); err != nil {
		logging.Warn().Err(err).Msg("Failed to sweep stale processing records")
	} else if swept > 0 {
		logging.Info().Int("records", swept).Msg("Swept stale processing records back to pending")
	}

	since, err := m.watermark(ctx, entity, fullSync)
	if err != nil {
		return nil, err
	}

	state, err := m.db.CreateSyncState(ctx, entity, fullSync)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("entity", string(entity)).
		Str("run_id", state.ID.String()).
		Bool("full_sync", fullSync).
		Msg("Sync run started")

	runErr := m.runStages(ctx, state.ID, entity, since)

	if err := m.db.FinalizeSyncState(ctx, state.ID, runErr); err != nil {
		logging.Error().Err(err).Msg("Failed to finalize sync state")
	}
	metrics.RecordSyncRun(string(entity), time.Since(start), runErr != nil)

	if counts, err := m.db.CountByStatus(ctx, entity); err == nil {
		metrics.SetStagingGauges(string(entity), counts)
	}

	final, err := m.db.GetSyncState(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		return final, runErr
	}

	logging.Info().
		Str("entity", string(entity)).
		Str("run_id", state.ID.String()).
		Int("pages", final.PagesFetched).
		Int("staged", final.RecordsStaged).
		Int("created", final.RecordsCreated).
		Int("updated", final.RecordsUpdated).
		Int("failed", final.RecordsFailed).
		Dur("duration", time.Since(start)).
		Msg("Sync run completed")

	return final, nil
}

// runStages executes extract, transform, and validate in order.
func (m *Manager) runStages(ctx context.Context, runID uuid.UUID, entity models.EntityType, since *time.Time) error {
	extracted, extractErr := m.extractor.Extract(ctx, entity, runID, since)
	if err := m.db.AddSyncCounts(ctx, runID, models.SyncState{
		PagesFetched:  extracted.Pages,
		RecordsStaged: extracted.Staged,
	}); err != nil {
		return err
	}
	// An extraction failure still leaves earlier pages staged; transform
	// them before reporting the run failed.
	if transformErr := m.drainStaging(ctx, runID, entity); transformErr != nil {
		if extractErr != nil {
			return fmt.Errorf("extract: %w (transform also failed: %v)", extractErr, transformErr)
		}
		return transformErr
	}
	if extractErr != nil {
		return fmt.Errorf("extract: %w", extractErr)
	}

	return m.validate(ctx, runID, entity)
}

// drainStaging runs transform batches until no pending records remain.
// The iteration valve guards against a record cycling pending->failed->
// pending forever.
func (m *Manager) drainStaging(ctx context.Context, runID uuid.UUID, entity models.EntityType) error {
	for iteration := 0; ; iteration++ {
		if iteration >= m.cfg.Sync.MaxTransformIterations {
			return fmt.Errorf("transform did not converge after %d iterations", iteration)
		}

		pending, err := m.db.PendingCount(ctx, entity)
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}

		result, err := m.transformer.ProcessBatch(ctx, entity)
		if addErr := m.db.AddSyncCounts(ctx, runID, models.SyncState{
			RecordsCreated: result.Created,
			RecordsUpdated: result.Updated,
			RecordsSkipped: result.Skipped,
			RecordsFailed:  result.Failed,
		}); addErr != nil {
			return addErr
		}
		if err != nil {
			return fmt.Errorf("transform batch failed: %w", err)
		}
		if result.Processed == 0 {
			// Pending records exist but none were claimable; bail rather
			// than spin.
			return nil
		}
	}
}

// validate runs the data-quality battery and persists its report. Issues
// never fail the run; they are recorded and surfaced through the API.
func (m *Manager) validate(ctx context.Context, runID uuid.UUID, entity models.EntityType) error {
	report, err := m.auditor.Run(ctx, runID, entity)
	if err != nil {
		return fmt.Errorf("validation failed to run: %w", err)
	}

	logging.Info().
		Str("entity", string(entity)).
		Int("checks", report.ChecksRun).
		Int("errors", report.ErrorCount).
		Int("warnings", report.WarningCount).
		Int("info", report.InfoCount).
		Msg("Validation complete")

	return nil
}

// watermark computes the incremental updated_since cutoff: the start of
// the last completed run minus the configured lookback. Nil means fetch
// everything (full sync, or no completed run yet).
func (m *Manager) watermark(ctx context.Context, entity models.EntityType, fullSync bool) (*time.Time, error) {
	if fullSync || m.cfg.Sync.FullSync {
		return nil, nil
	}
	last, err := m.db.LastCompletedSyncStart(ctx, entity)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}
	since := last.Add(-m.cfg.Sync.Lookback)
	return &since, nil
}

// StagingStatus reports staging record counts per entity type.
func (m *Manager) StagingStatus(ctx context.Context) (map[models.EntityType]map[string]int, error) {
	status := make(map[models.EntityType]map[string]int)
	for _, entity := range []models.EntityType{models.EntityContacts, models.EntityChats} {
		counts, err := m.db.CountByStatus(ctx, entity)
		if err != nil {
			return nil, err
		}
		status[entity] = counts
	}
	return status, nil
}

// ResetFailedStaging flips failed records back to pending. Without force,
// records at the attempt ceiling stay failed.
func (m *Manager) ResetFailedStaging(ctx context.Context, entity models.EntityType, force bool) (int, error) {
	if !entity.IsValid() {
		return 0, fmt.Errorf("unknown entity type %q", entity)
	}
	return m.db.ResetFailed(ctx, entity, m.cfg.Sync.MaxAttempts, force)
}

func (m *Manager) tryAcquire(entity models.EntityType) bool {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if m.running[entity] {
		return false
	}
	m.running[entity] = true
	return true
}

func (m *Manager) release(entity models.EntityType) {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	m.running[entity] = false
}
