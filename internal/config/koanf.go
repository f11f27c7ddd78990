// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces Timeharbor environment variables.
	envPrefix = "TIMEHARBOR_"

	// configPathEnv names an env var pointing at the YAML config file.
	configPathEnv = "TIMEHARBOR_CONFIG"
)

// sections maps the first path component of env keys. TIMEHARBOR_AGENT_SERVER_URL
// becomes agent.server_url: the section is split off, the remainder keeps its
// underscores.
var sections = []string{
	"server", "database", "security", "logging",
	"agent", "queue", "ingest", "replay", "worker",
}

// defaultConfig returns the built-in defaults. Every knob has a usable
// default except credentials and the agent server URL.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			Environment:     "development",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "data/timeharbor.db",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Security: SecurityConfig{
			Issuer: "timeharbor",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Agent: AgentConfig{
			HealthPath:       "/health/live",
			ProbeTimeout:     5 * time.Second,
			RequestTimeout:   15 * time.Second,
			BackoffBase:      time.Second,
			BackoffCap:       60 * time.Second,
			MaxProbeAttempts: 8,
			SyncInterval:     2 * time.Minute,
		},
		Queue: QueueConfig{
			Path:       "data/queue",
			SyncWrites: true,
		},
		Ingest: IngestConfig{
			MaxBatchSize: 1000,
		},
		Replay: ReplayConfig{
			Timezone:   "",
			WindowDays: 7,
		},
		Worker: WorkerConfig{
			ChannelBuffer: 256,
		},
	}
}

// Load builds the effective configuration by layering, lowest precedence
// first: struct defaults, the YAML file at path (or $TIMEHARBOR_CONFIG, or
// config.yaml if present), then TIMEHARBOR_* environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// envTransform maps TIMEHARBOR_SECTION_SOME_KEY to section.some_key. Keys
// that do not start with a known section are ignored.
func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + strings.TrimPrefix(key, sec+"_")
		}
	}
	return ""
}
