// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package database is the server's DuckDB persistence layer: the
// authoritative time-event log, the reference entities (teams, tasks)
// and the materialized daily-stat cache.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/logging"
)

// DB wraps the DuckDB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at cfg.Path and applies schema
// migrations.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	q := url.Values{}
	q.Set("threads", strconv.Itoa(threads))
	if cfg.MaxMemory != "" {
		q.Set("max_memory", cfg.MaxMemory)
	}
	dsn := cfg.Path + "?" + q.Encode()

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb at %s: %w", cfg.Path, err)
	}

	// DuckDB is embedded; a small pool avoids writer contention.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging duckdb: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).
		Msg("Database opened")
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports database liveness for health checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate applies the schema. Statements are idempotent.
func (db *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			id         VARCHAR PRIMARY KEY,
			name       VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id         VARCHAR PRIMARY KEY,
			team_id    VARCHAR,
			title      VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS time_events (
			id          VARCHAR PRIMARY KEY,
			user_id     VARCHAR NOT NULL,
			type        VARCHAR NOT NULL,
			ts          TIMESTAMP NOT NULL,
			task_id     VARCHAR,
			team_id     VARCHAR,
			note        VARCHAR,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_time_events_user_ts
			ON time_events (user_id, ts)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			user_id         VARCHAR NOT NULL,
			team_id         VARCHAR NOT NULL,
			date            VARCHAR NOT NULL,
			total_worked_ms BIGINT NOT NULL,
			updated_at      TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, team_id, date)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.conn.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}
