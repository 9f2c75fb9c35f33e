// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/metrics"
	"github.com/chatfunnel/chatfunnel/internal/models"
)

// retryWithBackoff executes fn with exponential backoff on failure. The
// context cancels waits between attempts; if it is canceled mid-wait the
// function returns immediately with the context error.
func (e *Extractor) retryWithBackoff(ctx context.Context, entity models.EntityType, fn func() error) error {
	var err error
	delay := e.cfg.RetryDelay

	for attempt := 0; attempt < e.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		if attempt < e.cfg.RetryAttempts-1 {
			metrics.ExtractRetries.WithLabelValues(string(entity)).Inc()
			logging.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", e.cfg.RetryAttempts).
				Dur("delay", delay).
				Msg("Retry attempt")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}
