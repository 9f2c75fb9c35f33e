// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

// Package models defines the normalized entities the sync pipeline writes
// to DuckDB, plus the staging and bookkeeping records that drive it.
// Wire-format payloads from the upstream platform live in models/conversa.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a person who has chatted with the platform.
type Contact struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Agent is a human operator. Agents are discovered through chat payloads,
// so a row may be a stub carrying only the external ID until a full sync
// backfills the rest.
type Agent struct {
	ID            uuid.UUID `json:"id"`
	ExternalID    string    `json:"externalId"`
	Name          string    `json:"name,omitempty"`
	Email         string    `json:"email,omitempty"`
	NeedsFullSync bool      `json:"needsFullSync"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Department is a routing group for chats. Like agents, departments may be
// stubs created from a foreign-key reference before their details arrive.
type Department struct {
	ID            uuid.UUID `json:"id"`
	ExternalID    string    `json:"externalId"`
	Name          string    `json:"name,omitempty"`
	NeedsFullSync bool      `json:"needsFullSync"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Chat is one conversation. The nullable timestamps record lifecycle
// milestones; Status is derived from them at transform time.
type Chat struct {
	ID              uuid.UUID  `json:"id"`
	ExternalID      string     `json:"externalId"`
	ContactID       uuid.UUID  `json:"contactId"`
	AgentID         *uuid.UUID `json:"agentId,omitempty"`
	DepartmentID    *uuid.UUID `json:"departmentId,omitempty"`
	Status          ChatStatus `json:"status"`
	Closed          bool       `json:"closed"`
	StartedAt       time.Time  `json:"startedAt"`
	OpenedAt        *time.Time `json:"openedAt,omitempty"`
	PickedUpAt      *time.Time `json:"pickedUpAt,omitempty"`
	ResponseAt      *time.Time `json:"responseAt,omitempty"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	PollStartedAt   *time.Time `json:"pollStartedAt,omitempty"`
	PollCompletedAt *time.Time `json:"pollCompletedAt,omitempty"`
	PollAbandonedAt *time.Time `json:"pollAbandonedAt,omitempty"`
	PollResponse    []byte     `json:"pollResponse,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Message is one utterance within a chat. Identity is the pair
// (ChatExternalID, Ordinal): ordinal is the zero-based position in the
// upstream message array, which stays stable even when several messages
// share a timestamp.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ChatID         uuid.UUID `json:"chatId"`
	ChatExternalID string    `json:"chatExternalId"`
	Ordinal        int       `json:"ordinal"`
	Sender         string    `json:"sender"`
	SenderType     string    `json:"senderType"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sentAt"`
	CreatedAt      time.Time `json:"createdAt"`
}
