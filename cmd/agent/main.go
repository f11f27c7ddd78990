// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// The agent binary: the device-side daemon that watches connectivity
// and syncs the durable queues to the server whenever it is reachable.
//
// This binary is wiring for embedders. It has no local control surface
// of its own: the embedding application (a tracker UI, a CLI, a kiosk)
// opens the same queue.Store and feeds it through AppendEvent and
// Enqueue; this process drains whatever it finds there. Run standalone
// it idles, syncing an empty queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dharp02/timeharbor/internal/client"
	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/connectivity"
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/orchestrator"
	"github.com/Dharp02/timeharbor/internal/queue"
	"github.com/Dharp02/timeharbor/internal/supervisor"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "timeharbor-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).
		Str("server", cfg.Agent.ServerURL).Msg("Timeharbor agent starting")

	store, err := queue.Open(cfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Err(err).Msg("Closing agent store failed")
		}
	}()

	apiClient, err := client.New(cfg.Agent)
	if err != nil {
		return err
	}

	// The monitor's online callback and the syncer's failure reporting
	// point at each other; the closure defers the dereference until the
	// tree is running.
	var syncer *orchestrator.Syncer
	monitor := connectivity.New(apiClient, cfg.Agent, func() { syncer.TriggerSync() })
	syncer = orchestrator.New(store, apiClient, monitor, reauthLogger{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New("timeharbor-agent")
	sup.Add(monitor)
	sup.Add(syncer)
	sup.Add(&housekeeping{
		store:    store,
		monitor:  monitor,
		syncer:   syncer,
		interval: cfg.Agent.SyncInterval,
	})

	err = sup.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logging.Info().Msg("Timeharbor agent stopped")
	return nil
}

// reauthLogger surfaces invalid sessions. The surrounding application is
// expected to watch the log (or replace this) and run its login flow.
type reauthLogger struct{}

func (reauthLogger) SessionInvalid() {
	logging.Error().Msg("Session invalid: re-authentication required")
}

// housekeeping triggers periodic syncs while online and runs store GC.
type housekeeping struct {
	store    *queue.Store
	monitor  *connectivity.Monitor
	syncer   *orchestrator.Syncer
	interval time.Duration
}

func (h *housekeeping) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	gc := time.NewTicker(10 * time.Minute)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if h.monitor.Status() == connectivity.StatusOnline {
				h.syncer.TriggerSync()
			}
		case <-gc.C:
			h.store.RunGC()
		}
	}
}

func (h *housekeeping) String() string {
	return "housekeeping"
}
