// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package supervisor assembles the suture supervision trees. Every
// long-running component implements suture.Service and is restarted on
// failure; supervisor events are logged through the slog bridge.
package supervisor

import (
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/Dharp02/timeharbor/internal/logging"
)

// New builds a supervisor with Timeharbor's restart policy.
func New(name string) *suture.Supervisor {
	hook := (&sutureslog.Handler{
		Logger: logging.NewSlogLogger(),
	}).MustHook()

	return suture.New(name, suture.Spec{
		EventHook:        hook,
		FailureDecay:     30,
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}
