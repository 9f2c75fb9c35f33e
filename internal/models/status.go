// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package models

// ChatStatus is the derived lifecycle state of a chat. It is computed from
// the chat's timestamps rather than stored by the upstream platform, so the
// same ChatPayload always derives the same status.
//
// Main path: bot_chatting -> opened -> picked_up -> responded_by_agent -> closed.
// Survey sub-path after close: completing_poll -> completed_poll | abandoned_poll.
type ChatStatus string

const (
	StatusBotChatting      ChatStatus = "bot_chatting"
	StatusOpened           ChatStatus = "opened"
	StatusPickedUp         ChatStatus = "picked_up"
	StatusRespondedByAgent ChatStatus = "responded_by_agent"
	StatusClosed           ChatStatus = "closed"
	StatusCompletingPoll   ChatStatus = "completing_poll"
	StatusCompletedPoll    ChatStatus = "completed_poll"
	StatusAbandonedPoll    ChatStatus = "abandoned_poll"
)

// AllStatuses lists every valid status, ordered by lifecycle progression.
var AllStatuses = []ChatStatus{
	StatusBotChatting,
	StatusOpened,
	StatusPickedUp,
	StatusRespondedByAgent,
	StatusClosed,
	StatusCompletingPoll,
	StatusCompletedPoll,
	StatusAbandonedPoll,
}

// IsValid reports whether s is one of the known statuses.
func (s ChatStatus) IsValid() bool {
	switch s {
	case StatusBotChatting, StatusOpened, StatusPickedUp, StatusRespondedByAgent,
		StatusClosed, StatusCompletingPoll, StatusCompletedPoll, StatusAbandonedPoll:
		return true
	}
	return false
}

// IsClosedFamily reports whether s represents a chat that has ended,
// including the post-close survey sub-states.
func (s ChatStatus) IsClosedFamily() bool {
	switch s {
	case StatusClosed, StatusCompletingPoll, StatusCompletedPoll, StatusAbandonedPoll:
		return true
	}
	return false
}

// IsOpenFamily reports whether s represents a chat still in progress.
func (s ChatStatus) IsOpenFamily() bool {
	return s.IsValid() && !s.IsClosedFamily()
}

func (s ChatStatus) String() string {
	return string(s)
}
