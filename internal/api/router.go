// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package api exposes the server's HTTP surface: batch ingestion, stats
// reads, entity creation for offline replay, the live websocket channel
// and operational endpoints.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dharp02/timeharbor/internal/auth"
	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/metrics"
	"github.com/Dharp02/timeharbor/internal/models"
	"github.com/Dharp02/timeharbor/internal/websocket"
)

// Ingestor commits event batches.
type Ingestor interface {
	IngestBatch(ctx context.Context, userID string, events []models.TimeEvent) (*models.BatchResult, error)
}

// StatsEngine serves derived stats reads and repairs.
type StatsEngine interface {
	Live(ctx context.Context, userID string) (*models.LiveStats, error)
	Backfill(ctx context.Context, userID string) error
}

// Store is the handler-facing persistence surface.
type Store interface {
	Ping(ctx context.Context) error
	CreateTeam(ctx context.Context, t *models.Team) error
	CreateTask(ctx context.Context, t *models.Task) error
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	DailyStats(ctx context.Context, userID, fromDate, toDate string) ([]models.DailyStat, error)
}

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	store    Store
	ingestor Ingestor
	engine   StatsEngine
	hub      *websocket.Hub
	version  string
	started  time.Time
}

// NewHandlers builds the handler set. hub may be nil to disable the
// live channel.
func NewHandlers(store Store, ingestor Ingestor, engine StatsEngine, hub *websocket.Hub, version string) *Handlers {
	return &Handlers{
		store:    store,
		ingestor: ingestor,
		engine:   engine,
		hub:      hub,
		version:  version,
		started:  time.Now(),
	}
}

// NewRouter assembles the chi router.
func NewRouter(h *Handlers, verifier *auth.Verifier, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Timeout))
	r.Use(instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Unauthenticated: probes and scrapes.
	r.Get("/health/live", h.handleLiveness)
	r.Head("/health/live", h.handleLiveness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Get("/health", h.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier))

			r.Post("/events/batch", h.handleBatch)
			r.Get("/stats/live", h.handleLiveStats)
			r.Get("/stats/daily", h.handleDailyStats)
			r.Post("/stats/backfill", h.handleBackfill)
			r.Post("/teams", h.handleCreateTeam)
			r.Get("/teams/{id}", h.handleGetTeam)
			r.Post("/tasks", h.handleCreateTask)
			r.Get("/tasks/{id}", h.handleGetTask)
			r.Get("/ws", h.handleWS)
		})
	})

	return r
}

// instrument records request counts and latency per route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
