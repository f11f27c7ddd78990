// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package ingest

import (
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/models"
)

// LoggingDispatcher is the default notification sink: clock transitions
// are logged instead of delivered. Actual delivery (push, email) plugs in
// by replacing this with a real Dispatcher.
type LoggingDispatcher struct{}

// DispatchEvents logs one line per notification-worthy event. Break and
// task events carry no audience beyond the stats push, so only clock
// transitions are announced.
func (LoggingDispatcher) DispatchEvents(userID string, events []models.TimeEvent) {
	for _, e := range events {
		switch e.Type {
		case models.EventClockIn:
			logging.Info().Str("user_id", userID).Str("team_id", e.TeamID).
				Time("at", e.Timestamp).Msg("Notification: member clocked in")
		case models.EventClockOut:
			logging.Info().Str("user_id", userID).
				Time("at", e.Timestamp).Msg("Notification: member clocked out")
		}
	}
}
