// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/metrics"
	"github.com/Dharp02/timeharbor/internal/models"
)

// Store is the persistence surface the engine needs.
type Store interface {
	// EventsForUserSince returns a user's events with timestamp >= since,
	// any order.
	EventsForUserSince(ctx context.Context, userID string, since time.Time) ([]models.TimeEvent, error)

	// LastClockEventBefore returns the user's latest accrual-relevant
	// event (clock/task, not break) strictly before the cutoff, or nil.
	LastClockEventBefore(ctx context.Context, userID string, before time.Time) (*models.TimeEvent, error)

	// ReplaceDailyStats atomically swaps the user's materialized rows for
	// dates >= fromDate with stats. An empty fromDate means all dates.
	ReplaceDailyStats(ctx context.Context, userID, fromDate string, stats []models.DailyStat) error

	// DailyStats returns materialized rows for the inclusive date range.
	DailyStats(ctx context.Context, userID, fromDate, toDate string) ([]models.DailyStat, error)
}

// Engine materializes DailyStat rows by replaying event streams.
type Engine struct {
	store Store
	loc   *time.Location

	// windowDays bounds incremental recomputes; see Recompute.
	windowDays int

	nowFn func() time.Time
}

// NewEngine builds an Engine from replay configuration.
func NewEngine(store Store, cfg config.ReplayConfig) (*Engine, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading replay timezone: %w", err)
		}
		loc = l
	}
	return &Engine{
		store:      store,
		loc:        loc,
		windowDays: cfg.WindowDays,
		nowFn:      time.Now,
	}, nil
}

// Location returns the bucketing location.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Recompute re-derives the user's daily stats for the incremental
// window (today minus windowDays, inclusive). Events that land inside
// the window, the common case after a sync, only ever dirty window
// days; anything older goes through Backfill.
func (e *Engine) Recompute(ctx context.Context, userID string) error {
	start := e.nowFn()
	windowStart := e.windowStart()

	seed, err := e.seedState(ctx, userID, windowStart)
	if err != nil {
		metrics.RecomputeRuns.WithLabelValues("error").Inc()
		return err
	}

	err = e.recomputeFrom(ctx, userID, windowStart, seed)
	if err != nil {
		metrics.RecomputeRuns.WithLabelValues("error").Inc()
		return err
	}

	metrics.RecomputeRuns.WithLabelValues("ok").Inc()
	metrics.RecomputeDuration.Observe(e.nowFn().Sub(start).Seconds())
	return nil
}

// RecomputeSince re-derives stats covering events back to oldest, the
// earliest timestamp in a just-committed batch. Inside the incremental
// window this is a plain Recompute; an older timestamp (an agent that was
// offline longer than the window) forces a full backfill so those days
// are materialized instead of silently skipped.
func (e *Engine) RecomputeSince(ctx context.Context, userID string, oldest time.Time) error {
	if !oldest.IsZero() && oldest.Before(e.windowStart()) {
		logging.Info().Str("user_id", userID).Time("oldest", oldest).
			Msg("Batch predates recompute window, backfilling")
		return e.Backfill(ctx, userID)
	}
	return e.Recompute(ctx, userID)
}

// Backfill re-derives the user's entire daily-stat history from the full
// event stream. Used after bulk imports or repair.
func (e *Engine) Backfill(ctx context.Context, userID string) error {
	start := e.nowFn()
	err := e.recomputeFrom(ctx, userID, time.Time{}, State{})
	if err != nil {
		metrics.RecomputeRuns.WithLabelValues("error").Inc()
		return err
	}
	metrics.RecomputeRuns.WithLabelValues("ok").Inc()
	metrics.RecomputeDuration.Observe(e.nowFn().Sub(start).Seconds())
	logging.Info().Str("user_id", userID).Msg("Backfill complete")
	return nil
}

func (e *Engine) recomputeFrom(ctx context.Context, userID string, since time.Time, seed State) error {
	events, err := e.store.EventsForUserSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("loading events for %s: %w", userID, err)
	}

	totals, _ := Replay(events, e.loc, seed)

	stats := e.flatten(userID, totals)
	fromDate := ""
	if !since.IsZero() {
		fromDate = since.In(e.loc).Format(models.DayKeyFormat)
	}
	if err := e.store.ReplaceDailyStats(ctx, userID, fromDate, stats); err != nil {
		return fmt.Errorf("replacing daily stats for %s: %w", userID, err)
	}

	logging.Debug().Str("user_id", userID).Int("events", len(events)).
		Int("rows", len(stats)).Str("from", fromDate).Msg("Daily stats recomputed")
	return nil
}

// seedState reconstructs the accrual state at the window boundary from
// the last clock-relevant event before it. Time accrued before the
// boundary belongs to already-materialized days, so an open session is
// seeded as starting exactly at the boundary.
func (e *Engine) seedState(ctx context.Context, userID string, windowStart time.Time) (State, error) {
	last, err := e.store.LastClockEventBefore(ctx, userID, windowStart)
	if err != nil {
		return State{}, fmt.Errorf("loading seed event for %s: %w", userID, err)
	}
	if last == nil || !last.Type.StartsAccrual() {
		return State{}, nil
	}
	team := last.TeamID
	if last.Type == models.EventStopTask {
		team = ""
	}
	return State{ClockedIn: true, AccrualStart: windowStart, TeamID: team}, nil
}

// Live composes the dashboard read: cached day buckets plus the open
// session's delta. The delta is display-only and never persisted.
func (e *Engine) Live(ctx context.Context, userID string) (*models.LiveStats, error) {
	now := e.nowFn().In(e.loc)
	today := now.Format(models.DayKeyFormat)
	weekStart := startOfWeek(now).Format(models.DayKeyFormat)

	rows, err := e.store.DailyStats(ctx, userID, weekStart, today)
	if err != nil {
		return nil, fmt.Errorf("loading daily stats for %s: %w", userID, err)
	}

	var msToday, msWeek int64
	for _, r := range rows {
		msWeek += r.TotalWorkedMs
		if r.Date == today {
			msToday += r.TotalWorkedMs
		}
	}

	st, err := e.openState(ctx, userID)
	if err != nil {
		return nil, err
	}
	delta := LiveDeltaMs(st, e.nowFn())
	msToday += delta
	msWeek += delta

	live := &models.LiveStats{
		UserID:          userID,
		TeamID:          st.TeamID,
		TotalMsToday:    msToday,
		TotalMsWeek:     msWeek,
		TotalHoursToday: float64(msToday) / float64(time.Hour.Milliseconds()),
		TotalHoursWeek:  float64(msWeek) / float64(time.Hour.Milliseconds()),
		ClockedIn:       st.ClockedIn,
	}
	if st.ClockedIn {
		start := st.AccrualStart
		live.SessionStart = &start
	}
	return live, nil
}

// openState replays the incremental window to find the current session
// state.
func (e *Engine) openState(ctx context.Context, userID string) (State, error) {
	windowStart := e.windowStart()
	seed, err := e.seedState(ctx, userID, windowStart)
	if err != nil {
		return State{}, err
	}
	events, err := e.store.EventsForUserSince(ctx, userID, windowStart)
	if err != nil {
		return State{}, fmt.Errorf("loading events for %s: %w", userID, err)
	}
	_, st := Replay(events, e.loc, seed)
	return st, nil
}

// windowStart is local midnight, windowDays-1 days back: the window
// covers today plus the windowDays-1 preceding days.
func (e *Engine) windowStart() time.Time {
	now := e.nowFn().In(e.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d-(e.windowDays-1), 0, 0, 0, 0, e.loc)
}

func (e *Engine) flatten(userID string, totals Totals) []models.DailyStat {
	now := e.nowFn()
	var stats []models.DailyStat
	for _, day := range DayKeys(totals) {
		for team, ms := range totals[day] {
			stats = append(stats, models.DailyStat{
				UserID:        userID,
				TeamID:        team,
				Date:          day,
				TotalWorkedMs: ms,
				UpdatedAt:     now,
			})
		}
	}
	return stats
}

// startOfWeek returns local midnight of the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // Sunday
	}
	y, m, d := t.Date()
	return time.Date(y, m, d-(wd-1), 0, 0, 0, 0, t.Location())
}
