// Chatfunnel - Chat Platform Sync and SLA Analytics Pipeline
// Copyright 2026 Chatfunnel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatfunnel/chatfunnel

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatfunnel/chatfunnel/internal/config"
	"github.com/chatfunnel/chatfunnel/internal/metrics"
)

// NewRouter assembles the HTTP routing tree.
func NewRouter(cfg *config.ServerConfig, handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", handlers.HandleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Post("/", handlers.HandleTriggerSync)
			r.Get("/status", handlers.HandleSyncStatus)
			r.Get("/runs/{id}", handlers.HandleGetSyncRun)
		})
		r.Post("/staging/reset", handlers.HandleResetStaging)
		r.Get("/validation/{runId}", handlers.HandleGetValidationReport)
	})

	return r
}

// requestMetrics records request counts and latency per route pattern.
// The chi route pattern is used instead of the raw path to keep metric
// cardinality bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
