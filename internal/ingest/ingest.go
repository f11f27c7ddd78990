// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package ingest implements idempotent batch ingestion of time events.
// A batch commits atomically; the client-generated event id is the
// idempotency key, so a retried batch lands on the same rows. Derived
// work (recompute, live notification) happens after commit, off the
// request path.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/metrics"
	"github.com/Dharp02/timeharbor/internal/models"
	"github.com/Dharp02/timeharbor/internal/validation"
)

// Store is the persistence surface ingestion needs.
type Store interface {
	ExistingTaskIDs(ctx context.Context, ids []string) (map[string]bool, error)
	ExistingTeamIDs(ctx context.Context, ids []string) (map[string]bool, error)
	UpsertTimeEvents(ctx context.Context, events []models.TimeEvent) error
}

// Publisher hands post-commit work to the in-process task bus. oldest is
// the earliest event timestamp in the committed batch; the worker widens
// the recompute when it predates the incremental window. Publish failures
// must not fail the ingestion; the next sync repairs the cache.
type Publisher interface {
	PublishRecompute(userID string, oldest time.Time) error
}

// Dispatcher delivers event-triggered notifications after a batch commits
// (a member clocking in, for example). Delivery is fire-and-forget; a
// dropped notification is never worth failing the ingestion over.
type Dispatcher interface {
	DispatchEvents(userID string, events []models.TimeEvent)
}

// Sentinel errors, both the caller's fault.
var (
	ErrBatchTooLarge = fmt.Errorf("batch exceeds maximum size")
	ErrInvalidEvent  = fmt.Errorf("invalid event")
)

// Service ingests batches.
type Service struct {
	store    Store
	pub      Publisher
	dispatch Dispatcher
	maxBatch int
}

// New builds an ingestion Service. pub and dispatch may be nil (tests,
// tooling).
func New(store Store, pub Publisher, dispatch Dispatcher, maxBatch int) *Service {
	return &Service{store: store, pub: pub, dispatch: dispatch, maxBatch: maxBatch}
}

// IngestBatch validates, normalizes and commits one batch on behalf of
// the authenticated user. Unresolvable task/team references are nulled
// with a warning rather than rejecting the event: a reference can
// legitimately be stale (entity deleted while the device was offline)
// and the time worked is still a fact worth keeping.
func (s *Service) IngestBatch(ctx context.Context, userID string, events []models.TimeEvent) (*models.BatchResult, error) {
	if len(events) == 0 {
		return &models.BatchResult{}, nil
	}
	if len(events) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(events), s.maxBatch)
	}

	for i := range events {
		events[i].UserID = userID
		if err := events[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		if err := validation.Struct(&events[i]); err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrInvalidEvent, events[i].ID, err)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	nulled, err := s.resolveRefs(ctx, events)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpsertTimeEvents(ctx, events); err != nil {
		return nil, err
	}

	metrics.EventsIngested.Add(float64(len(events)))
	metrics.BatchSize.Observe(float64(len(events)))

	result := &models.BatchResult{
		Accepted:    len(events),
		NulledRefs:  nulled,
		AcceptedIDs: make([]string, len(events)),
	}
	for i, e := range events {
		result.AcceptedIDs[i] = e.ID
	}

	// events is sorted; the first entry carries the batch's oldest timestamp.
	s.afterCommit(userID, events[0].Timestamp, events)
	return result, nil
}

// resolveRefs nulls task/team references that do not resolve, using one
// bulk existence query per entity kind.
func (s *Service) resolveRefs(ctx context.Context, events []models.TimeEvent) (int, error) {
	taskIDs := collectIDs(events, func(e *models.TimeEvent) string { return e.TaskID })
	teamIDs := collectIDs(events, func(e *models.TimeEvent) string { return e.TeamID })

	tasks, err := s.store.ExistingTaskIDs(ctx, taskIDs)
	if err != nil {
		return 0, fmt.Errorf("resolving task refs: %w", err)
	}
	teams, err := s.store.ExistingTeamIDs(ctx, teamIDs)
	if err != nil {
		return 0, fmt.Errorf("resolving team refs: %w", err)
	}

	nulled := 0
	for i := range events {
		e := &events[i]
		if e.TaskID != "" && !tasks[e.TaskID] {
			logging.Warn().Str("event_id", e.ID).Str("task_id", e.TaskID).
				Msg("Unknown task reference nulled")
			e.TaskID = ""
			nulled++
		}
		if e.TeamID != "" && !teams[e.TeamID] {
			logging.Warn().Str("event_id", e.ID).Str("team_id", e.TeamID).
				Msg("Unknown team reference nulled")
			e.TeamID = ""
			nulled++
		}
	}
	if nulled > 0 {
		metrics.RefsNulled.Add(float64(nulled))
	}
	return nulled, nil
}

// afterCommit queues derived work and notifications. Failures are logged,
// never surfaced: the batch is committed and the stats cache self-heals on
// the next recompute.
func (s *Service) afterCommit(userID string, oldest time.Time, events []models.TimeEvent) {
	if s.pub != nil {
		if err := s.pub.PublishRecompute(userID, oldest); err != nil {
			logging.Error().Err(err).Str("user_id", userID).
				Msg("Publishing recompute task failed")
		}
	}
	if s.dispatch != nil {
		s.dispatch.DispatchEvents(userID, events)
	}
}

func collectIDs(events []models.TimeEvent, get func(*models.TimeEvent) string) []string {
	seen := make(map[string]bool)
	var ids []string
	for i := range events {
		if id := get(&events[i]); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
