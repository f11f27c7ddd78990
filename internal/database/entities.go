// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dharp02/timeharbor/internal/models"
)

// CreateTeam inserts a team. Creating the same id twice updates the name
// so replayed offline mutations stay idempotent.
func (db *DB) CreateTeam(ctx context.Context, t *models.Team) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO teams (id, name, created_at)
		VALUES (?, ?, ?)`, t.ID, t.Name, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating team %s: %w", t.ID, err)
	}
	return nil
}

// CreateTask inserts a task, same idempotency rule as CreateTeam.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (id, team_id, title, created_at)
		VALUES (?, ?, ?, ?)`, t.ID, nullString(t.TeamID), t.Title, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating task %s: %w", t.ID, err)
	}
	return nil
}

// GetTeam returns a team by id, or nil when absent.
func (db *DB) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM teams WHERE id = ?`, id)
	var t models.Team
	err := row.Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying team %s: %w", id, err)
	}
	return &t, nil
}

// GetTask returns a task by id, or nil when absent.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, team_id, title, created_at FROM tasks WHERE id = ?`, id)
	var t models.Task
	var teamID sql.NullString
	err := row.Scan(&t.ID, &teamID, &t.Title, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying task %s: %w", id, err)
	}
	t.TeamID = teamID.String
	return &t, nil
}
