// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package config provides layered configuration for both Timeharbor
// binaries (server and agent) using koanf v2: struct defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration shared by both binaries. The server
// reads Server/Database/Security/Ingest/Replay/Worker; the agent reads
// Agent/Queue. Logging is shared.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
	Agent    AgentConfig    `koanf:"agent"`
	Queue    QueueConfig    `koanf:"queue"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Replay   ReplayConfig   `koanf:"replay"`
	Worker   WorkerConfig   `koanf:"worker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	Environment     string        `koanf:"environment"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings for the server store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// SecurityConfig holds bearer-credential validation settings. Token
// issuance belongs to the external identity service; the server only
// validates.
type SecurityConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// AgentConfig holds device-agent settings: where the server lives and how
// aggressively to probe it when unreachable.
type AgentConfig struct {
	// ServerURL is the base URL of the Timeharbor server.
	ServerURL string `koanf:"server_url"`

	// HealthPath is the cheap, side-effect-free probe target.
	HealthPath string `koanf:"health_path"`

	// Token is the bearer credential attached to every request.
	Token string `koanf:"token"`

	// ProbeTimeout bounds a single reachability probe.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`

	// RequestTimeout bounds mutation replays and batch pushes.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// BackoffBase and BackoffCap shape the probe retry schedule:
	// min(base*2^attempt, cap) + jitter.
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffCap  time.Duration `koanf:"backoff_cap"`

	// MaxProbeAttempts bounds active polling; after this many failed
	// probes the monitor waits passively for the next OS network event.
	MaxProbeAttempts int `koanf:"max_probe_attempts"`

	// SyncInterval is the periodic sync trigger while online.
	SyncInterval time.Duration `koanf:"sync_interval"`
}

// QueueConfig holds BadgerDB settings for the agent's durable store (the
// mutation queue and the local event log share one database).
type QueueConfig struct {
	Path string `koanf:"path"`

	// SyncWrites forces fsync after every write. Offline durability is
	// the whole point of the queue, so this defaults to true.
	SyncWrites bool `koanf:"sync_writes"`
}

// IngestConfig holds batch ingestion limits.
type IngestConfig struct {
	// MaxBatchSize caps events per request; larger batches are rejected.
	MaxBatchSize int `koanf:"max_batch_size"`
}

// ReplayConfig holds day-bucketing replay settings.
type ReplayConfig struct {
	// Timezone is the IANA name of the location whose midnights split
	// day buckets, e.g. "Europe/Berlin". Empty means UTC.
	Timezone string `koanf:"timezone"`

	// WindowDays is the incremental-recompute lookback window.
	WindowDays int `koanf:"window_days"`
}

// WorkerConfig holds post-commit worker settings.
type WorkerConfig struct {
	// ChannelBuffer is the GoChannel Pub/Sub output buffer size.
	ChannelBuffer int64 `koanf:"channel_buffer"`
}

// Validate checks server-side configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Security.JWTSecret == "" && c.Server.Environment == "production" {
		return fmt.Errorf("security.jwt_secret is required in production")
	}
	if c.Ingest.MaxBatchSize < 1 {
		return fmt.Errorf("ingest.max_batch_size must be at least 1")
	}
	if c.Replay.WindowDays < 1 {
		return fmt.Errorf("replay.window_days must be at least 1")
	}
	if c.Replay.Timezone != "" {
		if _, err := time.LoadLocation(c.Replay.Timezone); err != nil {
			return fmt.Errorf("replay.timezone: %w", err)
		}
	}
	return nil
}

// ValidateAgent checks agent-side configuration invariants.
func (c *Config) ValidateAgent() error {
	if c.Agent.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if _, err := url.Parse(c.Agent.ServerURL); err != nil {
		return fmt.Errorf("agent.server_url: %w", err)
	}
	if c.Queue.Path == "" {
		return fmt.Errorf("queue.path is required")
	}
	if c.Agent.ProbeTimeout < time.Second {
		return fmt.Errorf("agent.probe_timeout must be at least 1 second")
	}
	if c.Agent.BackoffBase < 100*time.Millisecond {
		return fmt.Errorf("agent.backoff_base must be at least 100ms")
	}
	if c.Agent.BackoffCap < c.Agent.BackoffBase {
		return fmt.Errorf("agent.backoff_cap must be >= agent.backoff_base")
	}
	if c.Agent.MaxProbeAttempts < 1 {
		return fmt.Errorf("agent.max_probe_attempts must be at least 1")
	}
	return nil
}
