// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/models/conversa"
)

func testClientConfig(url string) *config.ConversaConfig {
	return &config.ConversaConfig{
		URL:           url,
		APIKey:        "test-key",
		Timeout:       5 * time.Second,
		PageSize:      100,
		RatePerSecond: 1000,
		RateBurst:     1000,
	}
}

// newFastRetryClient returns a client whose retry backoff is short enough
// for tests.
func newFastRetryClient(url string) *ConversaClient {
	c := NewConversaClient(testClientConfig(url))
	c.retryBaseDelay = time.Millisecond
	return c
}

func writePage(w http.ResponseWriter, data []string, total, offset int) {
	raw := make([]json.RawMessage, len(data))
	for i, d := range data {
		raw[i] = json.RawMessage(d)
	}
	_ = json.NewEncoder(w).Encode(conversa.Page{
		Data:   raw,
		Total:  total,
		Offset: offset,
		Limit:  len(data),
	})
}

func TestClient_LoginAndFetch(t *testing.T) {
	var loginCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			loginCalls.Add(1)
			var req conversa.LoginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey != "test-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(conversa.LoginResponse{Token: "tok-1"})

		case "/api/v1/contacts":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writePage(w, []string{`{"id":"c-1"}`, `{"id":"c-2"}`}, 2, 0)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newFastRetryClient(srv.URL)
	ctx := context.Background()

	page, err := client.FetchContactsPage(ctx, 0, 100, nil)
	if err != nil {
		t.Fatalf("FetchContactsPage failed: %v", err)
	}
	if len(page.Data) != 2 || page.Total != 2 {
		t.Errorf("Unexpected page: %d records total %d", len(page.Data), page.Total)
	}
	if page.HasMore() {
		t.Error("Expected HasMore to be false on the final page")
	}

	// A second fetch reuses the cached token.
	if _, err := client.FetchContactsPage(ctx, 0, 100, nil); err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if n := loginCalls.Load(); n != 1 {
		t.Errorf("Expected 1 login call, got %d", n)
	}
}

func TestClient_UpdatedSinceQuery(t *testing.T) {
	var gotQuery atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			_ = json.NewEncoder(w).Encode(conversa.LoginResponse{Token: "tok-1"})
		case "/api/v1/chats":
			gotQuery.Store(r.URL.Query().Get("updated_since"))
			writePage(w, nil, 0, 0)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newFastRetryClient(srv.URL)
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := client.FetchChatsPage(context.Background(), 0, 100, &since); err != nil {
		t.Fatalf("FetchChatsPage failed: %v", err)
	}

	if got := gotQuery.Load(); got != "2026-03-01T12:00:00Z" {
		t.Errorf("Expected RFC3339 updated_since, got %v", got)
	}
}

func TestClient_RefreshesTokenOn401(t *testing.T) {
	var loginCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			n := loginCalls.Add(1)
			token := "expired"
			if n > 1 {
				token = "fresh"
			}
			_ = json.NewEncoder(w).Encode(conversa.LoginResponse{Token: token})
		case "/api/v1/contacts":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writePage(w, []string{`{"id":"c-1"}`}, 1, 0)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newFastRetryClient(srv.URL)
	page, err := client.FetchContactsPage(context.Background(), 0, 100, nil)
	if err != nil {
		t.Fatalf("Expected fetch to succeed after token refresh: %v", err)
	}
	if len(page.Data) != 1 {
		t.Errorf("Expected 1 record, got %d", len(page.Data))
	}
	if n := loginCalls.Load(); n != 2 {
		t.Errorf("Expected exactly 2 login calls (initial + refresh), got %d", n)
	}
}

func TestClient_PersistentUnauthorizedFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			_ = json.NewEncoder(w).Encode(conversa.LoginResponse{Token: "always-bad"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	client := newFastRetryClient(srv.URL)
	_, err := client.FetchContactsPage(context.Background(), 0, 100, nil)
	if err == nil {
		t.Fatal("Expected error when token is rejected after refresh")
	}
}

func TestClient_HonorsRetryAfterOn429(t *testing.T) {
	var fetchCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			_ = json.NewEncoder(w).Encode(conversa.LoginResponse{Token: "tok-1"})
		case "/api/v1/chats":
			if fetchCalls.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writePage(w, []string{`{"id":"ch-1"}`}, 1, 0)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newFastRetryClient(srv.URL)
	page, err := client.FetchChatsPage(context.Background(), 0, 100, nil)
	if err != nil {
		t.Fatalf("Expected fetch to succeed after 429 backoff: %v", err)
	}
	if len(page.Data) != 1 {
		t.Errorf("Expected 1 record, got %d", len(page.Data))
	}
	if n := fetchCalls.Load(); n != 2 {
		t.Errorf("Expected 2 fetch attempts, got %d", n)
	}
}

func TestClient_ServerErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login" {
			_ = json.NewEncoder(w).Encode(conversa.LoginResponse{Token: "tok-1"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"shard down"}`))
	}))
	defer srv.Close()

	client := newFastRetryClient(srv.URL)
	_, err := client.FetchContactsPage(context.Background(), 0, 100, nil)
	if err == nil {
		t.Fatal("Expected error on HTTP 500")
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login" {
			_ = json.NewEncoder(w).Encode(conversa.LoginResponse{Token: "tok-1"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newFastRetryClient(srv.URL)
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
