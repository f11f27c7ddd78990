// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package orchestrator runs the agent's sync passes. A pass drains the
// offline mutation queue in FIFO order, then pushes pending time events
// in one batch, then acknowledges what the server accepted. At most one
// pass runs at a time; triggers arriving mid-pass coalesce into a single
// follow-up pass.
package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/Dharp02/timeharbor/internal/client"
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/metrics"
	"github.com/Dharp02/timeharbor/internal/models"
)

// API is the server surface a sync pass needs.
type API interface {
	ReplayMutation(ctx context.Context, m *models.OfflineMutation) (client.Outcome, *models.MutationResponse, error)
	PushBatch(ctx context.Context, events []models.TimeEvent) (client.Outcome, *models.BatchResult, error)
}

// LocalStore is the durable agent-side state a sync pass reads and prunes.
type LocalStore interface {
	Mutations() ([]models.OfflineMutation, error)
	Remove(seq uint64) error
	UpdateMutation(m *models.OfflineMutation) error
	ClearMutations() (int, error)
	RewriteTempID(tempID, canonicalID string) (int, error)
	RewriteEventRefs(tempID, canonicalID string) (int, error)
	PendingEvents() ([]models.TimeEvent, error)
	AcknowledgeEvents(ids []string) error
}

// FailureReporter receives connectivity-shaped failures so the monitor
// can fall back to probing.
type FailureReporter interface {
	ReportFailure()
}

// AuthHandler is notified when the server rejects the session. The
// surrounding app must re-authenticate the user.
type AuthHandler interface {
	SessionInvalid()
}

// Syncer coordinates sync passes.
type Syncer struct {
	store    LocalStore
	api      API
	reporter FailureReporter
	auth     AuthHandler

	// syncing enforces single-flight.
	syncing atomic.Bool

	// triggers coalesces sync requests.
	triggers chan struct{}

	// OnReconcile, if set, is called after a temp id is remapped so the
	// embedding application can re-key any entity copies it caches
	// outside the durable store.
	OnReconcile func(tempID, canonicalID string)
}

// New builds a Syncer. reporter and auth may be nil.
func New(store LocalStore, api API, reporter FailureReporter, auth AuthHandler) *Syncer {
	return &Syncer{
		store:    store,
		api:      api,
		reporter: reporter,
		auth:     auth,
		triggers: make(chan struct{}, 1),
	}
}

// TriggerSync requests a sync pass. Never blocks; concurrent triggers
// coalesce.
func (s *Syncer) TriggerSync() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Serve consumes triggers until ctx is canceled. It satisfies
// suture.Service.
func (s *Syncer) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.triggers:
			if err := s.Sync(ctx); err != nil {
				logging.Warn().Err(err).Msg("Sync pass ended early")
			}
		}
	}
}

// Sync runs one full pass. If a pass is already running it returns
// immediately; the running pass covers the trigger.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.syncing.CompareAndSwap(false, true) {
		logging.Debug().Msg("Sync already in flight, skipping")
		return nil
	}
	defer s.syncing.Store(false)

	err := s.drainMutations(ctx)
	if err == nil {
		err = s.pushEvents(ctx)
	}
	if err != nil {
		metrics.SyncPasses.WithLabelValues("error").Inc()
		return err
	}
	metrics.SyncPasses.WithLabelValues("ok").Inc()
	return nil
}

// drainMutations replays queued writes oldest-first. Outcome handling:
// success removes the entry (reconciling temp ids first); an invalid
// session clears the whole queue; a permanent rejection drops just that
// entry and continues; a transient failure stops the drain with the
// remainder intact and in order.
func (s *Syncer) drainMutations(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		mutations, err := s.store.Mutations()
		if err != nil {
			return err
		}
		if len(mutations) == 0 {
			return nil
		}
		m := mutations[0]

		outcome, resp, err := s.api.ReplayMutation(ctx, &m)
		switch outcome {
		case client.OutcomeOK:
			if err := s.reconcile(&m, resp); err != nil {
				return err
			}
			if err := s.store.Remove(m.Seq); err != nil {
				return err
			}

		case client.OutcomeAuthExpired:
			dropped, cerr := s.store.ClearMutations()
			if cerr != nil {
				return cerr
			}
			logging.Warn().Int("dropped", dropped).
				Msg("Session invalid, mutation queue cleared")
			if s.auth != nil {
				s.auth.SessionInvalid()
			}
			return err

		case client.OutcomeClientError:
			logging.Error().Err(err).Uint64("seq", m.Seq).
				Str("method", m.Method).Str("path", m.Path).
				Msg("Mutation permanently rejected, dropping")
			if err := s.store.Remove(m.Seq); err != nil {
				return err
			}

		default: // transient
			m.Attempts++
			m.LastError = errString(err)
			if uerr := s.store.UpdateMutation(&m); uerr != nil {
				logging.Warn().Err(uerr).Uint64("seq", m.Seq).
					Msg("Recording retry bookkeeping failed")
			}
			if s.reporter != nil {
				s.reporter.ReportFailure()
			}
			return err
		}
	}
}

// reconcile maps a temp id to the server's canonical id across the
// remaining queue and the pending event log.
func (s *Syncer) reconcile(m *models.OfflineMutation, resp *models.MutationResponse) error {
	if m.TempID == "" || resp == nil || resp.ID == "" || resp.ID == m.TempID {
		return nil
	}
	if _, err := s.store.RewriteTempID(m.TempID, resp.ID); err != nil {
		return err
	}
	if _, err := s.store.RewriteEventRefs(m.TempID, resp.ID); err != nil {
		return err
	}
	if s.OnReconcile != nil {
		s.OnReconcile(m.TempID, resp.ID)
	}
	return nil
}

// pushEvents submits all pending time events in one batch and removes
// the ones the server acknowledged.
func (s *Syncer) pushEvents(ctx context.Context) error {
	events, err := s.store.PendingEvents()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	outcome, result, err := s.api.PushBatch(ctx, events)
	switch outcome {
	case client.OutcomeOK:
		ids := result.AcceptedIDs
		if len(ids) == 0 {
			// Server accepted the batch but did not echo ids; everything
			// we sent is covered.
			ids = make([]string, len(events))
			for i, e := range events {
				ids[i] = e.ID
			}
		}
		if err := s.store.AcknowledgeEvents(ids); err != nil {
			return err
		}
		logging.Info().Int("events", len(ids)).Msg("Batch acknowledged")
		return nil

	case client.OutcomeAuthExpired:
		// Events are facts, not intents: keep them pending for after
		// re-authentication.
		logging.Warn().Msg("Session invalid, events kept pending")
		if s.auth != nil {
			s.auth.SessionInvalid()
		}
		return err

	case client.OutcomeClientError:
		logging.Error().Err(err).Int("events", len(events)).
			Msg("Batch rejected, events kept pending")
		return err

	default:
		if s.reporter != nil {
			s.reporter.ReportFailure()
		}
		return err
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
