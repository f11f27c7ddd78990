// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Dharp02/timeharbor/internal/auth"
	"github.com/Dharp02/timeharbor/internal/ingest"
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/models"
	"github.com/Dharp02/timeharbor/internal/validation"
	"github.com/Dharp02/timeharbor/internal/websocket"
)

// handleBatch ingests a batch of time events for the authenticated user.
// A body that does not decode into a batch is treated the same as an
// empty one: no-op success, so retrying agents never wedge on it.
func (h *Handlers) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		logging.Debug().Err(err).Msg("Unusable batch body, acknowledging as empty")
		respondJSON(w, http.StatusOK, &models.BatchResult{})
		return
	}

	userID := auth.UserID(r.Context())
	result, err := h.ingestor.IngestBatch(r.Context(), userID, req.Events)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrBatchTooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, "BATCH_TOO_LARGE", err.Error())
		case errors.Is(err, ingest.ErrInvalidEvent):
			respondError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			respondError(w, http.StatusServiceUnavailable, "TIMEOUT", "request canceled")
		default:
			logging.Error().Err(err).Str("user_id", userID).Msg("Batch ingestion failed")
			respondError(w, http.StatusInternalServerError, "INGEST_FAILED", "batch could not be committed")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleLiveStats returns today's and this week's totals including the
// open session delta.
func (h *Handlers) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	live, err := h.engine.Live(r.Context(), userID)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Live stats read failed")
		respondError(w, http.StatusInternalServerError, "STATS_FAILED", "live stats unavailable")
		return
	}
	respondJSON(w, http.StatusOK, live)
}

// handleDailyStats returns materialized day buckets for a date range.
// Defaults to the last 30 days.
func (h *Handlers) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	to := r.URL.Query().Get("to")
	if to == "" {
		to = time.Now().UTC().Format(models.DayKeyFormat)
	}
	from := r.URL.Query().Get("from")
	if from == "" {
		from = time.Now().UTC().AddDate(0, 0, -30).Format(models.DayKeyFormat)
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse(models.DayKeyFormat, d); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_DATE", "dates must be YYYY-MM-DD")
			return
		}
	}

	stats, err := h.store.DailyStats(r.Context(), userID, from, to)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Daily stats read failed")
		respondError(w, http.StatusInternalServerError, "STATS_FAILED", "daily stats unavailable")
		return
	}
	if stats == nil {
		stats = []models.DailyStat{}
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleBackfill rebuilds the authenticated user's entire daily-stat
// history from the event log.
func (h *Handlers) handleBackfill(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := h.engine.Backfill(r.Context(), userID); err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Backfill failed")
		respondError(w, http.StatusInternalServerError, "BACKFILL_FAILED", "backfill did not complete")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"result": "backfilled"})
}

// handleCreateTeam creates a team, assigning a canonical id when the
// client sent none or a temporary one it invented offline. The reply's
// id is what offline clients reconcile against.
func (h *Handlers) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var team models.Team
	if err := decodeJSON(r, &team); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not a valid team")
		return
	}
	if err := validation.Struct(&team); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TEAM", err.Error())
		return
	}
	if team.ID == "" || isTempID(team.ID) {
		team.ID = uuid.NewString()
	}

	if err := h.store.CreateTeam(r.Context(), &team); err != nil {
		logging.Error().Err(err).Msg("Team creation failed")
		respondError(w, http.StatusInternalServerError, "CREATE_FAILED", "team could not be created")
		return
	}
	respondJSON(w, http.StatusCreated, team)
}

// handleCreateTask mirrors handleCreateTeam for tasks.
func (h *Handlers) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task models.Task
	if err := decodeJSON(r, &task); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not a valid task")
		return
	}
	if err := validation.Struct(&task); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TASK", err.Error())
		return
	}
	if task.ID == "" || isTempID(task.ID) {
		task.ID = uuid.NewString()
	}

	if err := h.store.CreateTask(r.Context(), &task); err != nil {
		logging.Error().Err(err).Msg("Task creation failed")
		respondError(w, http.StatusInternalServerError, "CREATE_FAILED", "task could not be created")
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

// handleGetTeam returns one team by id.
func (h *Handlers) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	team, err := h.store.GetTeam(r.Context(), id)
	if err != nil {
		logging.Error().Err(err).Str("team_id", id).Msg("Team lookup failed")
		respondError(w, http.StatusInternalServerError, "LOOKUP_FAILED", "team could not be loaded")
		return
	}
	if team == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "team does not exist")
		return
	}
	respondJSON(w, http.StatusOK, team)
}

// handleGetTask returns one task by id.
func (h *Handlers) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		logging.Error().Err(err).Str("task_id", id).Msg("Task lookup failed")
		respondError(w, http.StatusInternalServerError, "LOOKUP_FAILED", "task could not be loaded")
		return
	}
	if task == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "task does not exist")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// handleWS attaches the authenticated user to the live stats channel.
func (h *Handlers) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusNotImplemented, "NO_LIVE_CHANNEL", "live channel disabled")
		return
	}
	websocket.ServeWS(h.hub, auth.UserID(r.Context()), w, r)
}

// handleLiveness is the cheap reachability probe target. Agents HEAD
// this; it must never touch the database.
func (h *Handlers) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleHealth reports component health.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.store.Ping(ctx) == nil
	status := "healthy"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, models.HealthStatus{
		Status:            status,
		Version:           h.version,
		DatabaseConnected: dbOK,
		Uptime:            time.Since(h.started).Seconds(),
	})
}

// isTempID recognizes the client convention for offline-invented ids.
func isTempID(id string) bool {
	return strings.HasPrefix(id, "temp-")
}
