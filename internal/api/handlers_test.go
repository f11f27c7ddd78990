// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/auth"
	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/ingest"
	"github.com/Dharp02/timeharbor/internal/models"
)

type fakeStore struct {
	pingErr error
	teams   []models.Team
	tasks   []models.Task
	stats   []models.DailyStat
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) CreateTeam(_ context.Context, t *models.Team) error {
	f.teams = append(f.teams, *t)
	return nil
}

func (f *fakeStore) CreateTask(_ context.Context, t *models.Task) error {
	f.tasks = append(f.tasks, *t)
	return nil
}

func (f *fakeStore) GetTeam(_ context.Context, id string) (*models.Team, error) {
	for _, t := range f.teams {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DailyStats(_ context.Context, _, _, _ string) ([]models.DailyStat, error) {
	return f.stats, nil
}

type fakeIngestor struct {
	result *models.BatchResult
	err    error
	user   string
}

func (f *fakeIngestor) IngestBatch(_ context.Context, userID string, events []models.TimeEvent) (*models.BatchResult, error) {
	f.user = userID
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.BatchResult{Accepted: len(events)}, nil
}

type fakeEngine struct {
	live       *models.LiveStats
	backfilled []string
}

func (f *fakeEngine) Live(_ context.Context, userID string) (*models.LiveStats, error) {
	if f.live != nil {
		return f.live, nil
	}
	return &models.LiveStats{UserID: userID}, nil
}

func (f *fakeEngine) Backfill(_ context.Context, userID string) error {
	f.backfilled = append(f.backfilled, userID)
	return nil
}

func newTestRouter(store *fakeStore, ing *fakeIngestor, eng *fakeEngine) http.Handler {
	h := NewHandlers(store, ing, eng, nil, "test")
	// Empty secret = dev mode: the bearer token is the user id.
	verifier := auth.NewVerifier("", "")
	return NewRouter(h, verifier, config.ServerConfig{
		Timeout:         5 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer u1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding envelope: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestHandleBatch(t *testing.T) {
	ing := &fakeIngestor{result: &models.BatchResult{Accepted: 2, AcceptedIDs: []string{"a", "b"}}}
	h := newTestRouter(&fakeStore{}, ing, &fakeEngine{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events/batch", models.BatchRequest{
		Events: []models.TimeEvent{{ID: "a"}, {ID: "b"}},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}
	if ing.user != "u1" {
		t.Errorf("ingested as %q, want authenticated u1", ing.user)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Status != "success" {
		t.Errorf("status = %s", resp.Status)
	}
}

func TestHandleBatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"too large", fmt.Errorf("wrap: %w", ingest.ErrBatchTooLarge), http.StatusRequestEntityTooLarge},
		{"invalid event", fmt.Errorf("wrap: %w", ingest.ErrInvalidEvent), http.StatusBadRequest},
		{"internal", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeStore{}, &fakeIngestor{err: tt.err}, &fakeEngine{})
			rec := doJSON(t, h, http.MethodPost, "/api/v1/events/batch", models.BatchRequest{
				Events: []models.TimeEvent{{ID: "a"}},
			})
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if resp := decodeEnvelope(t, rec); resp.Status != "error" || resp.Error == nil {
				t.Errorf("envelope = %+v", resp)
			}
		})
	}
}

func TestHandleBatchMalformedBodyIsNoop(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"events not an array", `{"events":"not-an-array"}`},
		{"not json", `garbage`},
		{"empty object", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeStore{}, &fakeIngestor{}, &fakeEngine{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/events/batch", bytes.NewBufferString(tt.body))
			req.Header.Set("Authorization", "Bearer u1")
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("code = %d, want 200 no-op", rec.Code)
			}
			resp := decodeEnvelope(t, rec)
			if resp.Status != "success" {
				t.Errorf("status = %s, want success", resp.Status)
			}
			data, _ := json.Marshal(resp.Data)
			var result models.BatchResult
			if err := json.Unmarshal(data, &result); err != nil {
				t.Fatalf("decoding result: %v", err)
			}
			if result.Accepted != 0 {
				t.Errorf("accepted = %d, want 0", result.Accepted)
			}
		})
	}
}

func TestHandleBatchRequiresAuth(t *testing.T) {
	h := newTestRouter(&fakeStore{}, &fakeIngestor{}, &fakeEngine{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/batch", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", rec.Code)
	}
}

func TestHandleLiveStats(t *testing.T) {
	eng := &fakeEngine{live: &models.LiveStats{UserID: "u1", TotalMsToday: 1800000, ClockedIn: true}}
	h := newTestRouter(&fakeStore{}, &fakeIngestor{}, eng)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stats/live", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	data, _ := json.Marshal(resp.Data)
	var live models.LiveStats
	if err := json.Unmarshal(data, &live); err != nil {
		t.Fatalf("decoding live stats: %v", err)
	}
	if live.TotalMsToday != 1800000 || !live.ClockedIn {
		t.Errorf("live = %+v", live)
	}
}

func TestHandleDailyStats(t *testing.T) {
	store := &fakeStore{stats: []models.DailyStat{{UserID: "u1", Date: "2026-03-02", TotalWorkedMs: 1000}}}
	h := newTestRouter(store, &fakeIngestor{}, &fakeEngine{})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stats/daily?from=2026-03-01&to=2026-03-07", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/stats/daily?from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: code = %d, want 400", rec.Code)
	}
}

func TestHandleBackfill(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestRouter(&fakeStore{}, &fakeIngestor{}, eng)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/stats/backfill", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(eng.backfilled) != 1 || eng.backfilled[0] != "u1" {
		t.Errorf("backfilled = %v", eng.backfilled)
	}
}

func TestHandleCreateTeamAssignsCanonicalID(t *testing.T) {
	store := &fakeStore{}
	h := newTestRouter(store, &fakeIngestor{}, &fakeEngine{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/teams", models.Team{ID: "temp-3", Name: "alpha"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(store.teams) != 1 {
		t.Fatal("team not stored")
	}
	got := store.teams[0]
	if got.ID == "temp-3" || got.ID == "" {
		t.Errorf("id = %q, want fresh canonical id", got.ID)
	}

	// A client-chosen non-temp id is preserved for idempotent replay.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/teams", models.Team{ID: "team-keep", Name: "beta"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d", rec.Code)
	}
	if store.teams[1].ID != "team-keep" {
		t.Errorf("id = %q, want preserved", store.teams[1].ID)
	}
}

func TestHandleGetTeam(t *testing.T) {
	store := &fakeStore{teams: []models.Team{{ID: "team-1", Name: "alpha"}}}
	h := newTestRouter(store, &fakeIngestor{}, &fakeEngine{})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/teams/team-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/teams/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing team: code = %d, want 404", rec.Code)
	}
	if resp := decodeEnvelope(t, rec); resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("envelope = %+v", resp)
	}
}

func TestHandleCreateTeamRejectsUnnamed(t *testing.T) {
	h := newTestRouter(&fakeStore{}, &fakeIngestor{}, &fakeEngine{})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/teams", models.Team{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("liveness is unauthenticated and cheap", func(t *testing.T) {
		h := newTestRouter(&fakeStore{pingErr: fmt.Errorf("db down")}, &fakeIngestor{}, &fakeEngine{})
		for _, method := range []string{http.MethodGet, http.MethodHead} {
			req := httptest.NewRequest(method, "/health/live", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			// Liveness ignores the database on purpose.
			if rec.Code != http.StatusOK {
				t.Errorf("%s /health/live = %d, want 200", method, rec.Code)
			}
		}
	})

	t.Run("health reflects database state", func(t *testing.T) {
		h := newTestRouter(&fakeStore{}, &fakeIngestor{}, &fakeEngine{})
		rec := doJSON(t, h, http.MethodGet, "/api/v1/health", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("healthy: code = %d", rec.Code)
		}

		h = newTestRouter(&fakeStore{pingErr: fmt.Errorf("db down")}, &fakeIngestor{}, &fakeEngine{})
		rec = doJSON(t, h, http.MethodGet, "/api/v1/health", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("degraded: code = %d, want 503", rec.Code)
		}
	})
}
