// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dharp02/timeharbor/internal/models"
)

// ReplaceDailyStats swaps the user's materialized rows for dates >=
// fromDate with stats, in one transaction. An empty fromDate replaces
// the user's entire history. Days that replay to zero simply have their
// stale rows deleted.
func (db *DB) ReplaceDailyStats(ctx context.Context, userID, fromDate string, stats []models.DailyStat) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning stats replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if fromDate == "" {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM daily_stats WHERE user_id = ?`, userID)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM daily_stats WHERE user_id = ? AND date >= ?`, userID, fromDate)
	}
	if err != nil {
		return fmt.Errorf("deleting stale stats for %s: %w", userID, err)
	}

	if len(stats) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_stats (user_id, team_id, date, total_worked_ms, updated_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing stats insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range stats {
			_, err := stmt.ExecContext(ctx,
				s.UserID, s.TeamID, s.Date, s.TotalWorkedMs, s.UpdatedAt.UTC())
			if err != nil {
				return fmt.Errorf("inserting stat %s/%s/%s: %w", s.UserID, s.TeamID, s.Date, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing stats replace: %w", err)
	}
	return nil
}

// DailyStats returns materialized rows for the inclusive date range,
// ordered by date then team.
func (db *DB) DailyStats(ctx context.Context, userID, fromDate, toDate string) ([]models.DailyStat, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT user_id, team_id, date, total_worked_ms, updated_at
		FROM daily_stats
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date, team_id`, userID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("querying daily stats for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.DailyStat
	for rows.Next() {
		var s models.DailyStat
		var teamID sql.NullString
		if err := rows.Scan(&s.UserID, &teamID, &s.Date, &s.TotalWorkedMs, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning daily stat: %w", err)
		}
		s.TeamID = teamID.String
		out = append(out, s)
	}
	return out, rows.Err()
}
