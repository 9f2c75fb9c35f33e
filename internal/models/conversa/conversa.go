// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package conversa holds the wire-format types of the Conversa chat
// platform API. These mirror the upstream JSON exactly and are decoded
// with goccy/go-json before normalization into internal/models entities.
package conversa

import (
	"time"

	json "github.com/goccy/go-json"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	APIKey string `json:"api_key"`
}

// LoginResponse carries the short-lived bearer token.
type LoginResponse struct {
	Token string `json:"token"`
}

// Page is the pagination envelope every collection endpoint returns.
// Items are kept raw so the extractor can stage each element byte-for-byte
// as fetched.
type Page struct {
	Data   []json.RawMessage `json:"data"`
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
}

// HasMore reports whether further pages remain after this one.
func (p *Page) HasMore() bool {
	return p.Offset+len(p.Data) < p.Total
}

// ContactPayload is one contact as the upstream API serves it.
type ContactPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`

	// Extra collects fields this client does not model, so new upstream
	// attributes survive the staging round-trip instead of vanishing.
	Extra map[string]json.RawMessage `json:"-"`
}

func (c *ContactPayload) UnmarshalJSON(data []byte) error {
	type alias ContactPayload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = ContactPayload(a)
	c.Extra = extraFields(data, "id", "name", "email", "phone")
	return nil
}

// ChatPayload is one chat as served upstream, including its full message
// array. All lifecycle timestamps are nullable: the upstream platform sets
// each one only when the chat reaches that milestone.
type ChatPayload struct {
	ID              string           `json:"id"`
	ContactID       string           `json:"contact_id"`
	AgentID         string           `json:"agent_id"`
	DepartmentID    string           `json:"department_id"`
	Closed          bool             `json:"closed"`
	StartedAt       time.Time        `json:"started_at"`
	OpenedAt        *time.Time       `json:"opened_at"`
	PickedUpAt      *time.Time       `json:"picked_up_at"`
	ResponseAt      *time.Time       `json:"response_at"`
	ClosedAt        *time.Time       `json:"closed_at"`
	PollStartedAt   *time.Time       `json:"poll_started_at"`
	PollCompletedAt *time.Time       `json:"poll_completed_at"`
	PollAbandonedAt *time.Time       `json:"poll_abandoned_at"`
	PollResponse    json.RawMessage  `json:"poll_response"`
	Messages        []MessagePayload `json:"messages"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (c *ChatPayload) UnmarshalJSON(data []byte) error {
	type alias ChatPayload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = ChatPayload(a)
	c.Extra = extraFields(data,
		"id", "contact_id", "agent_id", "department_id", "closed",
		"started_at", "opened_at", "picked_up_at", "response_at", "closed_at",
		"poll_started_at", "poll_completed_at", "poll_abandoned_at",
		"poll_response", "messages")
	return nil
}

// MessagePayload is one message inside a chat payload. Upstream provides
// no message ID; identity is the element's position in the Messages array.
type MessagePayload struct {
	Sender     string    `json:"sender"`
	SenderType string    `json:"sender_type"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// extraFields returns the top-level members of data not named in known.
func extraFields(data []byte, known ...string) map[string]json.RawMessage {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil
	}
	return all
}
