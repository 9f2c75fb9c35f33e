// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/metrics"
	"github.com/chatfunnel/chatfunnel/internal/models/conversa"
)

// CircuitBreakerClient wraps a ConversaClient with the circuit breaker
// pattern, preventing cascading failures when the upstream API is
// unavailable or slow.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout calculations. Timing only determines when to recover from
// failures, never data integrity; unit tests should mock the underlying
// client rather than the breaker.
type CircuitBreakerClient struct {
	client ClientInterface
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient wraps the Conversa client with a breaker that
// opens at a 60% failure rate over at least 10 requests, allows 3 requests
// in half-open state, and waits 2 minutes before attempting recovery.
func NewCircuitBreakerClient(cfg *config.ConversaConfig) *CircuitBreakerClient {
	return newCircuitBreaker(NewConversaClient(cfg))
}

func newCircuitBreaker(client ClientInterface) *CircuitBreakerClient {
	cbName := "conversa-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, name: cbName}
}

// execute wraps an upstream call with circuit breaker protection.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Ping verifies upstream connectivity with circuit breaker protection.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}

// FetchContactsPage fetches a contacts page with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchContactsPage(ctx context.Context, offset, limit int, updatedSince *time.Time) (*conversa.Page, error) {
	return castResult[conversa.Page](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchContactsPage(ctx, offset, limit, updatedSince)
	}))
}

// FetchChatsPage fetches a chats page with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchChatsPage(ctx context.Context, offset, limit int, updatedSince *time.Time) (*conversa.Page, error) {
	return castResult[conversa.Page](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchChatsPage(ctx, offset, limit, updatedSince)
	}))
}
