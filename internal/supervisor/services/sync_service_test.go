// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeWorker struct {
	runErr   error
	ranCh    chan struct{}
	blockCtx bool
}

func (f *fakeWorker) Run(ctx context.Context) error {
	if f.ranCh != nil {
		close(f.ranCh)
	}
	if f.blockCtx {
		<-ctx.Done()
	}
	return f.runErr
}

func (f *fakeWorker) Close() error { return nil }

func TestSyncService_StopsOnContextCancel(t *testing.T) {
	ran := make(chan struct{})
	svc := NewSyncService(&fakeWorker{ranCh: ran, blockCtx: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Worker never started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestSyncService_PropagatesWorkerError(t *testing.T) {
	wantErr := errors.New("queue closed unexpectedly")
	svc := NewSyncService(&fakeWorker{runErr: wantErr})

	err := svc.Serve(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected worker error propagated, got %v", err)
	}
}

func TestSyncService_String(t *testing.T) {
	if got := NewSyncService(&fakeWorker{}).String(); got != "sync-worker" {
		t.Errorf("String() = %s", got)
	}
}
