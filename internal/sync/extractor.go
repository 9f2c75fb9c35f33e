// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package sync

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/database"
	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/metrics"
	"github.com/chatfunnel/chatfunnel/internal/models"
	"github.com/chatfunnel/chatfunnel/internal/models/conversa"
)

// Extractor pages through an upstream collection and stages every record
// raw. Each page is staged before the next is fetched, so a failure on
// page N never loses pages 1..N-1: they are already durable and the
// transformer can process them independently.
type Extractor struct {
	client   ClientInterface
	db       *database.DB
	cfg      *config.SyncConfig
	pageSize int
}

// ExtractResult summarizes one extraction pass.
type ExtractResult struct {
	Pages  int
	Staged int
}

// NewExtractor creates an extractor over the given client and store.
func NewExtractor(client ClientInterface, db *database.DB, cfg *config.SyncConfig, pageSize int) *Extractor {
	return &Extractor{client: client, db: db, cfg: cfg, pageSize: pageSize}
}

// Extract fetches every page of the entity's collection modified since the
// watermark (all pages when since is nil) and stages the raw payloads
// under the given run. Per-page fetches retry with exponential backoff;
// a page that still fails ends the pass with whatever was staged so far.
func (e *Extractor) Extract(ctx context.Context, entity models.EntityType, runID uuid.UUID, since *time.Time) (ExtractResult, error) {
	var result ExtractResult
	offset := 0

	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		start := time.Now()
		var page *conversa.Page
		err := e.retryWithBackoff(ctx, entity, func() error {
			var fetchErr error
			page, fetchErr = e.fetchPage(ctx, entity, offset, since)
			return fetchErr
		})
		if err != nil {
			return result, fmt.Errorf("failed to fetch %s page at offset %d: %w", entity, offset, err)
		}
		metrics.ExtractPageDuration.WithLabelValues(string(entity)).Observe(time.Since(start).Seconds())

		staged, err := e.stagePage(ctx, entity, runID, page, result.Pages+1, offset)
		if err != nil {
			return result, err
		}

		result.Pages++
		result.Staged += staged
		metrics.ExtractPagesFetched.WithLabelValues(string(entity)).Inc()
		metrics.ExtractRecordsStaged.WithLabelValues(string(entity)).Add(float64(staged))

		logging.Debug().
			Str("entity", string(entity)).
			Int("offset", offset).
			Int("records", len(page.Data)).
			Int("staged", staged).
			Int("total", page.Total).
			Msg("Page staged")

		if !page.HasMore() || len(page.Data) == 0 {
			break
		}
		offset += len(page.Data)
	}

	logging.Info().
		Str("entity", string(entity)).
		Int("pages", result.Pages).
		Int("staged", result.Staged).
		Msg("Extraction complete")

	return result, nil
}

func (e *Extractor) fetchPage(ctx context.Context, entity models.EntityType, offset int, since *time.Time) (*conversa.Page, error) {
	switch entity {
	case models.EntityContacts:
		return e.client.FetchContactsPage(ctx, offset, e.pageSize, since)
	case models.EntityChats:
		return e.client.FetchChatsPage(ctx, offset, e.pageSize, since)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
}

// stagePage writes one page of raw records. Records with no parseable ID
// are staged under a synthetic one so nothing fetched is ever dropped; the
// transformer will fail them with a diagnostic instead. Each record keeps
// the page number and its absolute offset so it can be traced back to the
// upstream request that produced it.
func (e *Extractor) stagePage(ctx context.Context, entity models.EntityType, runID uuid.UUID, page *conversa.Page, pageNum, offset int) (int, error) {
	records := make([]models.StagingRecord, 0, len(page.Data))
	for i, raw := range page.Data {
		externalID := extractExternalID(raw)
		if externalID == "" {
			externalID = "unparsed-" + uuid.NewString()
			logging.Warn().Str("entity", string(entity)).Msg("Record has no parseable id, staging under synthetic external_id")
		}
		records = append(records, models.StagingRecord{
			EntityType: entity,
			ExternalID: externalID,
			SyncRunID:  runID,
			APIPage:    pageNum,
			APIOffset:  offset + i,
			Payload:    raw,
		})
	}

	staged, err := e.db.InsertStagingRecords(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("failed to stage %s page: %w", entity, err)
	}
	return staged, nil
}

// extractExternalID pulls the id field out of a raw payload.
func extractExternalID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}
