// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package models

import (
	"time"
)

// Team is a group time can be attributed to.
type Team struct {
	// ID is client-suppliable so offline-created teams keep working
	// after replay; the server assigns one when absent.
	ID        string    `json:"id,omitempty" validate:"max=64"`
	Name      string    `json:"name" validate:"required,max=256"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Task is a unit of work within a team.
type Task struct {
	ID        string    `json:"id,omitempty" validate:"max=64"`
	TeamID    string    `json:"team_id,omitempty" validate:"max=64"`
	Title     string    `json:"title" validate:"required,max=512"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
