// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package metrics defines the Prometheus instrumentation surface. All
// collectors are registered on the default registry via promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "timeharbor"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// EventsIngested counts time events accepted by the batch endpoint.
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Time events accepted by batch ingestion.",
	})

	// RefsNulled counts foreign references nulled during ingestion because
	// the referenced task or team did not exist.
	RefsNulled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "refs_nulled_total",
		Help:      "Unresolvable task/team references nulled at ingestion.",
	})

	// BatchSize observes events per ingested batch.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "batch_size",
		Help:      "Events per ingested batch.",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
	})

	// RecomputeRuns counts daily-stat recompute executions by outcome.
	RecomputeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "replay",
		Name:      "recompute_runs_total",
		Help:      "Daily stat recompute runs.",
	}, []string{"outcome"})

	// RecomputeDuration observes recompute latency.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "replay",
		Name:      "recompute_duration_seconds",
		Help:      "Daily stat recompute latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// WebsocketConnections gauges currently attached live-stats clients.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "websocket",
		Name:      "connections",
		Help:      "Currently connected websocket clients.",
	})

	// QueueDepth gauges the agent's durable backlog by kind
	// ("mutations", "events").
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Entries in the agent's durable local queues.",
	}, []string{"kind"})

	// SyncPasses counts orchestrator sync passes by outcome.
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "passes_total",
		Help:      "Sync passes run by the agent orchestrator.",
	}, []string{"outcome"})

	// TasksPublished counts post-commit tasks handed to the worker bus.
	TasksPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_published_total",
		Help:      "Post-commit tasks published to the in-process bus.",
	}, []string{"topic"})
)
