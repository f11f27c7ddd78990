// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// The server binary: batch ingestion, stats reads, the live channel and
// the post-commit worker, all under one supervision tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dharp02/timeharbor/internal/api"
	"github.com/Dharp02/timeharbor/internal/auth"
	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/database"
	"github.com/Dharp02/timeharbor/internal/ingest"
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/replay"
	"github.com/Dharp02/timeharbor/internal/supervisor"
	"github.com/Dharp02/timeharbor/internal/websocket"
	"github.com/Dharp02/timeharbor/internal/worker"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "timeharbor-server: %v\n", err)
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
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).
		Str("environment", cfg.Server.Environment).Msg("Timeharbor server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Closing database failed")
		}
	}()

	engine, err := replay.NewEngine(db, cfg.Replay)
	if err != nil {
		return err
	}

	hub := websocket.NewHub()

	bus := worker.NewBus(cfg.Worker)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("Closing task bus failed")
		}
	}()

	taskRouter, err := worker.NewRouter(bus, engine, hub)
	if err != nil {
		return err
	}

	ingestSvc := ingest.New(db, bus, ingest.LoggingDispatcher{}, cfg.Ingest.MaxBatchSize)
	verifier := auth.NewVerifier(cfg.Security.JWTSecret, cfg.Security.Issuer)
	handlers := api.NewHandlers(db, ingestSvc, engine, hub, version)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, verifier, cfg.Server),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	sup := supervisor.New("timeharbor-server")
	sup.Add(hub)
	sup.Add(taskRouter)
	sup.Add(supervisor.NewHTTPService(srv))

	err = sup.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logging.Info().Msg("Timeharbor server stopped")
	return nil
}
