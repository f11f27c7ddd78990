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
	"strings"
	"time"

	"github.com/Dharp02/timeharbor/internal/models"
)

// UpsertTimeEvents writes a batch in one transaction. The event id is
// the conflict key: resubmitting an id overwrites the stored row, which
// makes retried batches idempotent.
func (db *DB) UpsertTimeEvents(ctx context.Context, events []models.TimeEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning event upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO time_events
			(id, user_id, type, ts, task_id, team_id, note, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing event upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.ID, e.UserID, string(e.Type), e.Timestamp.UTC(),
			nullString(e.TaskID), nullString(e.TeamID), nullString(e.Note), now)
		if err != nil {
			return fmt.Errorf("upserting event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event batch: %w", err)
	}
	return nil
}

// EventsForUserSince returns a user's events with timestamp >= since.
// A zero since returns the full stream.
func (db *DB) EventsForUserSince(ctx context.Context, userID string, since time.Time) ([]models.TimeEvent, error) {
	query := `
		SELECT id, user_id, type, ts, task_id, team_id, note
		FROM time_events
		WHERE user_id = ?`
	args := []interface{}{userID}
	if !since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY ts, id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.TimeEvent
	for rows.Next() {
		var e models.TimeEvent
		var typ string
		var taskID, teamID, note sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Timestamp, &taskID, &teamID, &note); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = models.EventType(typ)
		e.TaskID = taskID.String
		e.TeamID = teamID.String
		e.Note = note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastClockEventBefore returns the user's latest clock/task event
// strictly before the cutoff, or nil. Break events are excluded; they
// never decide whether time is accruing.
func (db *DB) LastClockEventBefore(ctx context.Context, userID string, before time.Time) (*models.TimeEvent, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, type, ts, task_id, team_id
		FROM time_events
		WHERE user_id = ? AND ts < ? AND type NOT IN ('BREAK_START', 'BREAK_END')
		ORDER BY ts DESC, id DESC
		LIMIT 1`, userID, before.UTC())

	var e models.TimeEvent
	var typ string
	var taskID, teamID sql.NullString
	err := row.Scan(&e.ID, &e.UserID, &typ, &e.Timestamp, &taskID, &teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last clock event for %s: %w", userID, err)
	}
	e.Type = models.EventType(typ)
	e.TaskID = taskID.String
	e.TeamID = teamID.String
	return &e, nil
}

// ExistingTaskIDs filters ids down to the ones present in tasks.
func (db *DB) ExistingTaskIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return db.existingIDs(ctx, "tasks", ids)
}

// ExistingTeamIDs filters ids down to the ones present in teams.
func (db *DB) ExistingTeamIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return db.existingIDs(ctx, "teams", ids)
}

func (db *DB) existingIDs(ctx context.Context, table string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	// table is one of two compile-time constants, never user input.
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE id IN (%s)`, table, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("checking %s ids: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning %s id: %w", table, err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
