// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Dharp02/timeharbor/internal/client"
	"github.com/Dharp02/timeharbor/internal/metrics"
	"github.com/Dharp02/timeharbor/internal/models"
)

// memStore is an in-memory LocalStore.
type memStore struct {
	mutations []models.OfflineMutation
	events    []models.TimeEvent
	cleared   bool
}

func (s *memStore) Mutations() ([]models.OfflineMutation, error) {
	out := make([]models.OfflineMutation, len(s.mutations))
	copy(out, s.mutations)
	return out, nil
}

func (s *memStore) Remove(seq uint64) error {
	for i, m := range s.mutations {
		if m.Seq == seq {
			s.mutations = append(s.mutations[:i], s.mutations[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) UpdateMutation(m *models.OfflineMutation) error {
	for i := range s.mutations {
		if s.mutations[i].Seq == m.Seq {
			s.mutations[i] = *m
		}
	}
	return nil
}

func (s *memStore) ClearMutations() (int, error) {
	n := len(s.mutations)
	s.mutations = nil
	s.cleared = true
	return n, nil
}

func (s *memStore) RewriteTempID(tempID, canonicalID string) (int, error) {
	n := 0
	for i := range s.mutations {
		m := &s.mutations[i]
		if strings.Contains(string(m.Body), tempID) || strings.Contains(m.Path, tempID) {
			m.Body = json.RawMessage(strings.ReplaceAll(string(m.Body), tempID, canonicalID))
			m.Path = strings.ReplaceAll(m.Path, tempID, canonicalID)
			n++
		}
	}
	return n, nil
}

func (s *memStore) RewriteEventRefs(tempID, canonicalID string) (int, error) {
	n := 0
	for i := range s.events {
		if s.events[i].TeamID == tempID {
			s.events[i].TeamID = canonicalID
			n++
		}
		if s.events[i].TaskID == tempID {
			s.events[i].TaskID = canonicalID
			n++
		}
	}
	return n, nil
}

func (s *memStore) PendingEvents() ([]models.TimeEvent, error) {
	out := make([]models.TimeEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *memStore) AcknowledgeEvents(ids []string) error {
	keep := s.events[:0]
	acked := make(map[string]bool, len(ids))
	for _, id := range ids {
		acked[id] = true
	}
	for _, e := range s.events {
		if !acked[e.ID] {
			keep = append(keep, e)
		}
	}
	s.events = keep
	return nil
}

// scriptedAPI replays canned outcomes keyed by mutation path, and records
// call order.
type scriptedAPI struct {
	outcomes   map[string]client.Outcome
	responses  map[string]*models.MutationResponse
	batch      client.Outcome
	batchRes   *models.BatchResult
	replayed   []string
	pushedIDs  []string
	batchCalls int
}

func (a *scriptedAPI) ReplayMutation(_ context.Context, m *models.OfflineMutation) (client.Outcome, *models.MutationResponse, error) {
	a.replayed = append(a.replayed, m.Path)
	outcome := a.outcomes[m.Path]
	if outcome != client.OutcomeOK {
		return outcome, nil, errors.New("scripted failure")
	}
	return client.OutcomeOK, a.responses[m.Path], nil
}

func (a *scriptedAPI) PushBatch(_ context.Context, events []models.TimeEvent) (client.Outcome, *models.BatchResult, error) {
	a.batchCalls++
	for _, e := range events {
		a.pushedIDs = append(a.pushedIDs, e.ID)
	}
	if a.batch != client.OutcomeOK {
		return a.batch, nil, errors.New("scripted batch failure")
	}
	res := a.batchRes
	if res == nil {
		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		res = &models.BatchResult{Accepted: len(events), AcceptedIDs: ids}
	}
	return client.OutcomeOK, res, nil
}

type recordingReporter struct{ reported int }

func (r *recordingReporter) ReportFailure() { r.reported++ }

type recordingAuth struct{ invalidated int }

func (r *recordingAuth) SessionInvalid() { r.invalidated++ }

func mut(seq uint64, path string) models.OfflineMutation {
	return models.OfflineMutation{Seq: seq, Method: "POST", Path: path, EnqueuedAt: time.Now()}
}

func TestSyncHappyPath(t *testing.T) {
	store := &memStore{
		mutations: []models.OfflineMutation{mut(1, "/api/v1/teams"), mut(2, "/api/v1/tasks")},
		events:    []models.TimeEvent{{ID: "e1"}, {ID: "e2"}},
	}
	api := &scriptedAPI{
		outcomes: map[string]client.Outcome{"/api/v1/teams": client.OutcomeOK, "/api/v1/tasks": client.OutcomeOK},
	}

	s := New(store, api, nil, nil)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(store.mutations) != 0 {
		t.Errorf("mutations left = %d, want 0", len(store.mutations))
	}
	if len(store.events) != 0 {
		t.Errorf("events left = %d, want 0", len(store.events))
	}
	// Mutations drain before the batch push.
	if len(api.replayed) != 2 || api.batchCalls != 1 {
		t.Errorf("replayed=%v batchCalls=%d", api.replayed, api.batchCalls)
	}
}

func TestSyncTransientFailureStopsInOrder(t *testing.T) {
	store := &memStore{
		mutations: []models.OfflineMutation{mut(1, "/a"), mut(2, "/b"), mut(3, "/c")},
		events:    []models.TimeEvent{{ID: "e1"}},
	}
	api := &scriptedAPI{
		outcomes: map[string]client.Outcome{
			"/a": client.OutcomeOK,
			"/b": client.OutcomeTransient,
		},
	}
	reporter := &recordingReporter{}

	s := New(store, api, reporter, nil)
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error from transient failure")
	}

	// /a replayed and removed; /b and /c intact, still ordered; /c never
	// attempted; batch never pushed.
	if got := len(store.mutations); got != 2 {
		t.Fatalf("mutations left = %d, want 2", got)
	}
	if store.mutations[0].Path != "/b" || store.mutations[1].Path != "/c" {
		t.Errorf("order broken: %+v", store.mutations)
	}
	if store.mutations[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", store.mutations[0].Attempts)
	}
	if api.batchCalls != 0 {
		t.Error("batch pushed despite failed drain")
	}
	if reporter.reported != 1 {
		t.Errorf("failure reports = %d, want 1", reporter.reported)
	}
}

func TestSyncClientErrorDropsOneAndContinues(t *testing.T) {
	store := &memStore{
		mutations: []models.OfflineMutation{mut(1, "/bad"), mut(2, "/good")},
	}
	api := &scriptedAPI{
		outcomes: map[string]client.Outcome{
			"/bad":  client.OutcomeClientError,
			"/good": client.OutcomeOK,
		},
	}

	s := New(store, api, nil, nil)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(store.mutations) != 0 {
		t.Errorf("mutations left = %+v, want none", store.mutations)
	}
	if len(api.replayed) != 2 {
		t.Errorf("replayed = %v, want both", api.replayed)
	}
}

func TestSyncAuthExpiredClearsQueue(t *testing.T) {
	store := &memStore{
		mutations: []models.OfflineMutation{mut(1, "/a"), mut(2, "/b")},
		events:    []models.TimeEvent{{ID: "e1"}},
	}
	api := &scriptedAPI{
		outcomes: map[string]client.Outcome{"/a": client.OutcomeAuthExpired},
	}
	authRec := &recordingAuth{}

	s := New(store, api, nil, authRec)
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if !store.cleared || len(store.mutations) != 0 {
		t.Error("queue not cleared on invalid session")
	}
	// Events are facts and survive the clear.
	if len(store.events) != 1 {
		t.Errorf("events = %d, want kept", len(store.events))
	}
	if authRec.invalidated != 1 {
		t.Errorf("auth callbacks = %d, want 1", authRec.invalidated)
	}
}

func TestSyncReconcilesTempIDs(t *testing.T) {
	body := json.RawMessage(`{"team_id":"temp-7"}`)
	store := &memStore{
		mutations: []models.OfflineMutation{
			{Seq: 1, Method: "POST", Path: "/api/v1/teams", TempID: "temp-7"},
			{Seq: 2, Method: "POST", Path: "/api/v1/tasks", Body: body},
		},
		events: []models.TimeEvent{{ID: "e1", TeamID: "temp-7"}},
	}
	api := &scriptedAPI{
		outcomes: map[string]client.Outcome{
			"/api/v1/teams": client.OutcomeOK,
			"/api/v1/tasks": client.OutcomeOK,
		},
		responses: map[string]*models.MutationResponse{
			"/api/v1/teams": {ID: "team-42"},
		},
	}

	s := New(store, api, nil, nil)
	var hookTemp, hookCanonical string
	s.OnReconcile = func(tempID, canonicalID string) {
		hookTemp, hookCanonical = tempID, canonicalID
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if hookTemp != "temp-7" || hookCanonical != "team-42" {
		t.Errorf("reconcile hook got (%q, %q)", hookTemp, hookCanonical)
	}

	// The second mutation was replayed with the canonical id substituted
	// before it went out; the pending event was rewritten too (and then
	// acknowledged by the scripted push).
	if len(api.replayed) != 2 {
		t.Fatalf("replayed = %v", api.replayed)
	}
	if len(store.events) != 0 {
		t.Errorf("events left = %+v", store.events)
	}
}

func TestSyncBatchTransientKeepsEvents(t *testing.T) {
	store := &memStore{events: []models.TimeEvent{{ID: "e1"}}}
	api := &scriptedAPI{batch: client.OutcomeTransient}
	reporter := &recordingReporter{}

	s := New(store, api, reporter, nil)
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if len(store.events) != 1 {
		t.Error("events lost on transient batch failure")
	}
	if reporter.reported != 1 {
		t.Errorf("failure reports = %d", reporter.reported)
	}
}

func TestSyncAcknowledgesOnlyEchoedIDs(t *testing.T) {
	store := &memStore{events: []models.TimeEvent{{ID: "e1"}, {ID: "e2"}}}
	api := &scriptedAPI{
		batchRes: &models.BatchResult{Accepted: 1, AcceptedIDs: []string{"e1"}},
	}

	s := New(store, api, nil, nil)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(store.events) != 1 || store.events[0].ID != "e2" {
		t.Errorf("events = %+v, want only e2 pending", store.events)
	}
}

func TestSyncCountsPassOutcomes(t *testing.T) {
	okBefore := testutil.ToFloat64(metrics.SyncPasses.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(metrics.SyncPasses.WithLabelValues("error"))

	s := New(&memStore{}, &scriptedAPI{}, nil, nil)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	failing := New(&memStore{events: []models.TimeEvent{{ID: "e1"}}},
		&scriptedAPI{batch: client.OutcomeTransient}, nil, nil)
	if err := failing.Sync(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if got := testutil.ToFloat64(metrics.SyncPasses.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok passes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SyncPasses.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("error passes = %v, want 1", got)
	}
}

func TestTriggerSyncCoalesces(t *testing.T) {
	s := New(&memStore{}, &scriptedAPI{}, nil, nil)
	for i := 0; i < 10; i++ {
		s.TriggerSync()
	}
	if len(s.triggers) != 1 {
		t.Errorf("buffered triggers = %d, want 1", len(s.triggers))
	}
}
