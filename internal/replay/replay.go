// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package replay derives worked time from ordered time-event streams.
// Daily totals are never mutated directly; they are always the result of
// replaying events through the accrual state machine, so a correction is
// just a re-replay.
package replay

import (
	"sort"
	"time"

	"github.com/Dharp02/timeharbor/internal/models"
)

// State is the accrual machine's position in a user's event stream.
// A zero State means clocked out.
type State struct {
	// ClockedIn reports whether time is accruing.
	ClockedIn bool

	// AccrualStart is when the open accrual interval began.
	AccrualStart time.Time

	// TeamID is the team the open interval attributes to ("" = none).
	TeamID string

	// OnBreak and BreakStart track an open break inside the session.
	OnBreak    bool
	BreakStart time.Time

	// BreakMs is closed break time inside the current session. Breaks do
	// not interrupt persisted accrual; they are subtracted only from the
	// live in-progress delta.
	BreakMs int64
}

// Totals maps day key -> team id -> worked milliseconds. The empty team
// id bucket collects unattributed time.
type Totals map[string]map[string]int64

func (t Totals) add(day, team string, ms int64) {
	if ms <= 0 {
		return
	}
	byTeam, ok := t[day]
	if !ok {
		byTeam = make(map[string]int64)
		t[day] = byTeam
	}
	byTeam[team] += ms
}

// Replay runs events through the accrual machine starting from seed.
// Events are sorted by timestamp before replay; out-of-order delivery
// (the normal case after an offline stretch) is harmless. Replay stops
// at the last event: an open session contributes nothing to persisted
// totals until a later event closes or extends it.
//
// Midnights in loc split accrual intervals, so a session spanning
// midnight lands in both calendar days with no time lost or doubled.
func Replay(events []models.TimeEvent, loc *time.Location, seed State) (Totals, State) {
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]models.TimeEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	totals := make(Totals)
	st := seed

	for _, e := range sorted {
		ts := e.Timestamp
		switch {
		case e.Type.StartsAccrual():
			if st.ClockedIn {
				// Close the running interval and reopen, so a team
				// switch mid-session attributes each span correctly.
				bucketInterval(totals, st.AccrualStart, ts, st.TeamID, loc)
				st.AccrualStart = ts
				if e.Type != models.EventStopTask {
					st.TeamID = e.TeamID
				} else {
					// Stopping a task keeps the clock running but the
					// time that follows is unattributed.
					st.TeamID = ""
				}
			} else {
				st = State{ClockedIn: true, AccrualStart: ts, TeamID: e.TeamID}
				if e.Type == models.EventStopTask {
					st.TeamID = ""
				}
			}

		case e.Type == models.EventClockOut:
			if st.ClockedIn {
				bucketInterval(totals, st.AccrualStart, ts, st.TeamID, loc)
			}
			st = State{}

		case e.Type == models.EventBreakStart:
			if st.ClockedIn && !st.OnBreak {
				st.OnBreak = true
				st.BreakStart = ts
			}

		case e.Type == models.EventBreakEnd:
			if st.ClockedIn && st.OnBreak {
				st.BreakMs += ts.Sub(st.BreakStart).Milliseconds()
				st.OnBreak = false
			}
		}
	}

	return totals, st
}

// LiveDeltaMs is the in-progress session's contribution for display:
// elapsed time since accrual started, minus break time. Zero when
// clocked out. Never persisted.
func LiveDeltaMs(st State, now time.Time) int64 {
	if !st.ClockedIn || now.Before(st.AccrualStart) {
		return 0
	}
	delta := now.Sub(st.AccrualStart).Milliseconds() - st.BreakMs
	if st.OnBreak && now.After(st.BreakStart) {
		delta -= now.Sub(st.BreakStart).Milliseconds()
	}
	if delta < 0 {
		return 0
	}
	return delta
}

// bucketInterval adds [start, end) to totals, split at local midnights.
func bucketInterval(totals Totals, start, end time.Time, team string, loc *time.Location) {
	if !end.After(start) {
		return
	}
	cur := start.In(loc)
	endLoc := end.In(loc)

	for cur.Before(endLoc) {
		boundary := nextMidnight(cur, loc)
		segEnd := endLoc
		if boundary.Before(endLoc) {
			segEnd = boundary
		}
		totals.add(cur.Format(models.DayKeyFormat), team, segEnd.Sub(cur).Milliseconds())
		cur = segEnd
	}
}

// nextMidnight returns the first local midnight strictly after t.
func nextMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// DayKeys returns the day keys covered by totals in ascending order.
func DayKeys(totals Totals) []string {
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
