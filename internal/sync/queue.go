// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package sync

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/chatfunnel/chatfunnel/internal/logging"
	"github.com/chatfunnel/chatfunnel/internal/models"
)

// syncRequestsTopic is the in-process topic carrying sync triggers from
// the API (and the auto-sync ticker) to the queue worker.
const syncRequestsTopic = "sync.requests"

// SyncRequest asks the worker to run one sync.
type SyncRequest struct {
	Entity   models.EntityType `json:"entity"`
	FullSync bool              `json:"fullSync"`
}

// Queue is the in-process sync trigger queue, backed by Watermill's
// gochannel Pub/Sub. Decoupling trigger from execution keeps the HTTP
// handler non-blocking and serializes runs through a single worker.
type Queue struct {
	pubSub *gochannel.GoChannel
}

// NewQueue creates the trigger queue.
func NewQueue() *Queue {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, newWatermillLogger(logging.Logger()))
	return &Queue{pubSub: pubSub}
}

// Publish enqueues a sync request and returns the message UUID, which the
// API hands back to callers as the request identifier.
func (q *Queue) Publish(req SyncRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sync request: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.pubSub.Publish(syncRequestsTopic, msg); err != nil {
		return "", fmt.Errorf("failed to publish sync request: %w", err)
	}
	return msg.UUID, nil
}

// Subscribe returns the stream of sync requests. Messages must be acked
// by the consumer.
func (q *Queue) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	messages, err := q.pubSub.Subscribe(ctx, syncRequestsTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to sync requests: %w", err)
	}
	return messages, nil
}

// Close shuts the queue down; pending messages are dropped.
func (q *Queue) Close() error {
	return q.pubSub.Close()
}

// watermillLogger adapts zerolog to Watermill's LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := l.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return &watermillLogger{logger: logger}
}

func (l *watermillLogger) event(evt *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	return evt
}
