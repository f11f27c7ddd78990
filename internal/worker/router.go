// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/models"
)

// Recomputer re-derives one user's daily stats. RecomputeSince widens to
// a full backfill when oldest predates the incremental window.
type Recomputer interface {
	RecomputeSince(ctx context.Context, userID string, oldest time.Time) error
	Live(ctx context.Context, userID string) (*models.LiveStats, error)
}

// Notifier pushes fresh stats to a user's attached live clients.
type Notifier interface {
	SendToUser(userID string, update models.StatsUpdate)
}

// Router consumes the bus and dispatches tasks.
type Router struct {
	router *message.Router
}

// NewRouter wires the recompute handler onto the bus. notifier may be
// nil when no live channel is running.
func NewRouter(bus *Bus, engine Recomputer, notifier Notifier) (*Router, error) {
	logger := newLoggerAdapter()

	r, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building task router: %w", err)
	}

	r.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			Logger:          logger,
		}.Middleware,
	)

	r.AddNoPublisherHandler(
		"recompute_daily_stats",
		TopicRecompute,
		bus.pubsub,
		recomputeHandler(engine, notifier),
	)

	return &Router{router: r}, nil
}

// Serve runs the router until ctx is canceled. Satisfies suture.Service.
func (r *Router) Serve(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Close stops the router.
func (r *Router) Close() error {
	return r.router.Close()
}

// recomputeHandler recomputes, then notifies. Notification failure is
// invisible here: SendToUser is best-effort by contract.
func recomputeHandler(engine Recomputer, notifier Notifier) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var task recomputeTask
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			// Poison message; retrying cannot fix it.
			logging.Error().Err(err).Str("message_id", msg.UUID).
				Msg("Undecodable recompute task dropped")
			return nil
		}

		ctx := msg.Context()
		if err := engine.RecomputeSince(ctx, task.UserID, task.OldestEvent); err != nil {
			return fmt.Errorf("recomputing stats for %s: %w", task.UserID, err)
		}

		if notifier != nil {
			live, err := engine.Live(ctx, task.UserID)
			if err != nil {
				logging.Warn().Err(err).Str("user_id", task.UserID).
					Msg("Live stats unavailable after recompute")
				return nil
			}
			notifier.SendToUser(task.UserID, models.StatsUpdate{
				UserID:          task.UserID,
				TeamID:          live.TeamID,
				TotalHoursToday: live.TotalHoursToday,
				TotalHoursWeek:  live.TotalHoursWeek,
			})
		}
		return nil
	}
}
