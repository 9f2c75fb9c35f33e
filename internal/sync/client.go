// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	gosync "sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/models/conversa"
)

// maxErrorBodySize limits how much of a response body is read for error
// reporting, preventing unbounded allocation on large error responses.
const maxErrorBodySize = 64 * 1024

// ClientInterface is the upstream API surface the extractor depends on.
// Implemented by ConversaClient for production and by mocks in tests.
// All methods are safe for concurrent use.
type ClientInterface interface {
	Ping(ctx context.Context) error
	FetchContactsPage(ctx context.Context, offset, limit int, updatedSince *time.Time) (*conversa.Page, error)
	FetchChatsPage(ctx context.Context, offset, limit int, updatedSince *time.Time) (*conversa.Page, error)
}

// ConversaClient talks to the Conversa chat platform REST API.
//
// Resilience mechanisms:
//   - Token auth: api_key is exchanged for a short-lived bearer token at
//     POST /auth/login; a 401 invalidates the cache and re-authenticates once
//   - Rate limiting: client-side token bucket (x/time/rate) plus HTTP 429
//     handling honoring Retry-After with exponential backoff fallback
//   - Context: all methods accept context for cancellation
type ConversaClient struct {
	baseURL        string
	apiKey         string
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration

	tokenMu gosync.Mutex
	token   string
}

// NewConversaClient creates a client from the Conversa configuration.
func NewConversaClient(cfg *config.ConversaConfig) *ConversaClient {
	return &ConversaClient{
		baseURL:        cfg.URL,
		apiKey:         cfg.APIKey,
		client:         &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		maxRetries:     5,
		retryBaseDelay: time.Second,
	}
}

// Ping verifies connectivity and credentials by authenticating.
func (c *ConversaClient) Ping(ctx context.Context) error {
	_, err := c.ensureToken(ctx)
	return err
}

// FetchContactsPage fetches one page of contacts.
func (c *ConversaClient) FetchContactsPage(ctx context.Context, offset, limit int, updatedSince *time.Time) (*conversa.Page, error) {
	return c.fetchPage(ctx, "/api/v1/contacts", offset, limit, updatedSince)
}

// FetchChatsPage fetches one page of chats with embedded messages.
func (c *ConversaClient) FetchChatsPage(ctx context.Context, offset, limit int, updatedSince *time.Time) (*conversa.Page, error) {
	return c.fetchPage(ctx, "/api/v1/chats", offset, limit, updatedSince)
}

func (c *ConversaClient) fetchPage(ctx context.Context, path string, offset, limit int, updatedSince *time.Time) (*conversa.Page, error) {
	params := url.Values{}
	params.Set("offset", fmt.Sprintf("%d", offset))
	params.Set("limit", fmt.Sprintf("%d", limit))
	if updatedSince != nil {
		params.Set("updated_since", updatedSince.UTC().Format(time.RFC3339))
	}

	resp, err := c.doRequest(ctx, path, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page conversa.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return &page, nil
}

// doRequest performs an authenticated GET with rate limit handling. A 401
// invalidates the cached token and retries once with a fresh one; a 429
// backs off honoring Retry-After.
func (c *ConversaClient) doRequest(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	refreshed := false

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return resp, nil

		case http.StatusUnauthorized:
			_ = resp.Body.Close()
			if refreshed {
				return nil, fmt.Errorf("%s request unauthorized after token refresh", path)
			}
			logging.Debug().Str("path", path).Msg("Bearer token rejected, re-authenticating")
			c.invalidateToken(token)
			refreshed = true
			// Token refresh does not consume a rate-limit retry.
			attempt--

		case http.StatusTooManyRequests:
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
					delay = d
				}
			}
			_ = resp.Body.Close()
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			}
			logging.Warn().Str("path", path).Dur("delay", delay).Msg("Rate limited by upstream, backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			body := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s request failed with status %d: %s", path, resp.StatusCode, string(body))
		}
	}

	return nil, fmt.Errorf("%s request failed after %d attempts", path, c.maxRetries)
}

// ensureToken returns the cached bearer token, authenticating if needed.
func (c *ConversaClient) ensureToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(conversa.LoginRequest{APIKey: c.apiKey})
	if err != nil {
		return "", fmt.Errorf("failed to marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody := readBodyForError(resp.Body)
		return "", fmt.Errorf("login failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var login conversa.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if login.Token == "" {
		return "", fmt.Errorf("login response contained no token")
	}

	c.token = login.Token
	return c.token, nil
}

// invalidateToken drops the cached token if it still matches the rejected
// one. A concurrent goroutine may already have refreshed it.
func (c *ConversaClient) invalidateToken(rejected string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token == rejected {
		c.token = ""
	}
}

// readBodyForError reads at most maxErrorBodySize bytes for error messages.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}
