// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if !cfg.Queue.SyncWrites {
		t.Error("queue sync_writes should default on")
	}
	if cfg.Agent.BackoffCap < cfg.Agent.BackoffBase {
		t.Error("default backoff cap below base")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}
}

func TestLoadYAMLAndEnvLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
agent:
  server_url: "https://timeharbor.example.com"
  sync_interval: 30s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	// Env must beat the file.
	t.Setenv("TIMEHARBOR_SERVER_PORT", "7070")
	t.Setenv("TIMEHARBOR_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Agent.ServerURL != "https://timeharbor.example.com" {
		t.Errorf("server_url = %q", cfg.Agent.ServerURL)
	}
	if cfg.Agent.SyncInterval != 30*time.Second {
		t.Errorf("sync_interval = %v", cfg.Agent.SyncInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	// Untouched keys keep defaults.
	if cfg.Ingest.MaxBatchSize != 1000 {
		t.Errorf("max_batch_size = %d", cfg.Ingest.MaxBatchSize)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TIMEHARBOR_SERVER_PORT", "server.port"},
		{"TIMEHARBOR_AGENT_SERVER_URL", "agent.server_url"},
		{"TIMEHARBOR_QUEUE_SYNC_WRITES", "queue.sync_writes"},
		{"TIMEHARBOR_REPLAY_WINDOW_DAYS", "replay.window_days"},
		{"TIMEHARBOR_UNRELATED", ""},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"no db path", func(c *Config) { c.Database.Path = "" }, true},
		{"prod without secret", func(c *Config) { c.Server.Environment = "production" }, true},
		{"zero batch", func(c *Config) { c.Ingest.MaxBatchSize = 0 }, true},
		{"bad timezone", func(c *Config) { c.Replay.Timezone = "Mars/Olympus" }, true},
		{"good timezone", func(c *Config) { c.Replay.Timezone = "Europe/Berlin" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAgent(t *testing.T) {
	valid := func() *Config {
		c := defaultConfig()
		c.Agent.ServerURL = "https://timeharbor.example.com"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"no server url", func(c *Config) { c.Agent.ServerURL = "" }, true},
		{"no queue path", func(c *Config) { c.Queue.Path = "" }, true},
		{"probe timeout too small", func(c *Config) { c.Agent.ProbeTimeout = 10 * time.Millisecond }, true},
		{"cap below base", func(c *Config) { c.Agent.BackoffCap = c.Agent.BackoffBase / 2 }, true},
		{"zero attempts", func(c *Config) { c.Agent.MaxProbeAttempts = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.ValidateAgent(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateAgent() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
