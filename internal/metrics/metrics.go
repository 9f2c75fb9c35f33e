// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the sync pipeline:
// - Extraction (pages, records, retries, circuit breaker)
// - Staging lifecycle (records by processing status)
// - Transformation (outcome counters per entity type)
// - Validation (issues by severity)
// - HTTP API latency and throughput

var (
	// Extraction metrics

	ExtractPagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_extract_pages_fetched_total",
			Help: "Total number of pages fetched from the Conversa API",
		},
		[]string{"entity"},
	)

	ExtractRecordsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_extract_records_staged_total",
			Help: "Total number of raw records written to the staging store",
		},
		[]string{"entity"},
	)

	ExtractRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_extract_retries_total",
			Help: "Total number of page fetch retries",
		},
		[]string{"entity"},
	)

	ExtractPageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatfunnel_extract_page_duration_seconds",
			Help:    "Duration of a single page fetch including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	// Transform metrics

	TransformRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_transform_records_total",
			Help: "Total number of staging records processed by the transformer",
		},
		[]string{"entity", "outcome"}, // created, updated, skipped, failed
	)

	TransformBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatfunnel_transform_batch_size",
			Help:    "Number of staging records per transform batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)

	TransformBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatfunnel_transform_batch_duration_seconds",
			Help:    "Duration of a single transform batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	// Validation metrics

	ValidationIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_validation_issues_total",
			Help: "Total number of validation issues detected",
		},
		[]string{"entity", "severity"},
	)

	ValidationRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatfunnel_validation_run_duration_seconds",
			Help:    "Duration of a full validation battery run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	// Sync run metrics

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_sync_runs_total",
			Help: "Total number of sync runs by terminal status",
		},
		[]string{"entity", "status"}, // completed, failed
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatfunnel_sync_run_duration_seconds",
			Help:    "End-to-end duration of a sync run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"entity"},
	)

	StagingRecordsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatfunnel_staging_records",
			Help: "Current number of staging records by processing status",
		},
		[]string{"entity", "status"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatfunnel_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "outcome"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfunnel_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatfunnel_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordSyncRun records the terminal metrics for one sync run.
func RecordSyncRun(entity string, duration time.Duration, failed bool) {
	status := "completed"
	if failed {
		status = "failed"
	}
	SyncRuns.WithLabelValues(entity, status).Inc()
	SyncRunDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// SetStagingGauges updates the per-status staging gauges for an entity type.
func SetStagingGauges(entity string, counts map[string]int) {
	for _, status := range []string{"pending", "processing", "completed", "failed"} {
		StagingRecordsByStatus.WithLabelValues(entity, status).Set(float64(counts[status]))
	}
}
