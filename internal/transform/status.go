// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package transform

import (
	"time"

	"github.com/chatfunnel/chatfunnel/internal/models"
)

// Timestamps carries the lifecycle milestones of a chat payload. Each
// field is set only once the chat has reached that milestone.
type Timestamps struct {
	OpenedAt        *time.Time
	PickedUpAt      *time.Time
	ResponseAt      *time.Time
	ClosedAt        *time.Time
	PollStartedAt   *time.Time
	PollCompletedAt *time.Time
	PollAbandonedAt *time.Time
}

// DeriveStatus computes a chat's lifecycle status from its timestamps.
// It is a pure function: the same inputs always yield the same status,
// so re-transforming a staged payload converges to the same row.
//
// Precedence runs from most-advanced state backwards. The survey sub-path
// outranks plain closed: a chat with both closed_at and poll_started_at
// has entered the survey, so its state is the poll state.
func DeriveStatus(ts Timestamps, closed bool) models.ChatStatus {
	switch {
	case ts.PollCompletedAt != nil:
		return models.StatusCompletedPoll
	case ts.PollAbandonedAt != nil:
		return models.StatusAbandonedPoll
	case ts.PollStartedAt != nil:
		return models.StatusCompletingPoll
	case closed || ts.ClosedAt != nil:
		return models.StatusClosed
	case ts.ResponseAt != nil:
		return models.StatusRespondedByAgent
	case ts.PickedUpAt != nil:
		return models.StatusPickedUp
	case ts.OpenedAt != nil:
		return models.StatusOpened
	default:
		return models.StatusBotChatting
	}
}
