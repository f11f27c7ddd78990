// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package models

import (
	"time"
)

// DayKeyFormat is the calendar-date key used for day buckets ("2006-01-02").
const DayKeyFormat = "2006-01-02"

// DailyStat is the materialized worked-time total for one (user, team, local
// calendar date) triple. It is derived, never authoritative: it can always be
// rebuilt by replaying the user's full TimeEvent stream.
type DailyStat struct {
	UserID string `json:"user_id"`

	// TeamID is empty for time not attributed to a team.
	TeamID string `json:"team_id,omitempty"`

	// Date is the local calendar date in DayKeyFormat.
	Date string `json:"date"`

	TotalWorkedMs int64 `json:"total_worked_ms"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// LiveStats is the dashboard read composition: cached day buckets plus the
// in-progress session delta. Never persisted.
type LiveStats struct {
	UserID          string  `json:"user_id"`
	TeamID          string  `json:"team_id,omitempty"`
	TotalMsToday    int64   `json:"total_ms_today"`
	TotalMsWeek     int64   `json:"total_ms_week"`
	TotalHoursToday float64 `json:"total_hours_today"`
	TotalHoursWeek  float64 `json:"total_hours_week"`

	// ClockedIn reports whether a session is currently accruing.
	ClockedIn bool `json:"clocked_in"`

	// SessionStart is the start of the open session, if ClockedIn.
	SessionStart *time.Time `json:"session_start,omitempty"`
}

// StatsUpdate is the live-channel payload pushed after each successful
// sync-triggered recompute.
type StatsUpdate struct {
	UserID          string  `json:"user_id"`
	TeamID          string  `json:"team_id,omitempty"`
	TotalHoursToday float64 `json:"total_hours_today"`
	TotalHoursWeek  float64 `json:"total_hours_week"`
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	DatabaseConnected bool    `json:"database_connected"`
	Uptime            float64 `json:"uptime_seconds"`
}
