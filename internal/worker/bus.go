// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package worker runs post-commit tasks off the request path on an
// in-process Watermill bus. Ingestion publishes a recompute task after
// each committed batch; the handler re-derives the user's daily stats
// and pushes the fresh numbers to attached live clients.
package worker

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/metrics"
)

// TopicRecompute carries recompute tasks, one message per synced user.
const TopicRecompute = "stats.recompute"

// recomputeTask is the message payload. OldestEvent is the earliest
// timestamp in the batch that triggered the task; the handler uses it to
// widen the recompute when the batch predates the incremental window.
type recomputeTask struct {
	UserID      string    `json:"user_id"`
	OldestEvent time.Time `json:"oldest_event,omitempty"`
}

// Bus wraps the in-process Pub/Sub shared by publisher and router.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus builds the in-process bus.
func NewBus(cfg config.WorkerConfig) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.ChannelBuffer,
		}, newLoggerAdapter()),
	}
}

// Close shuts the bus down, releasing subscribers.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// PublishRecompute queues a recompute task for one user. Satisfies
// ingest.Publisher.
func (b *Bus) PublishRecompute(userID string, oldest time.Time) error {
	payload, err := json.Marshal(recomputeTask{UserID: userID, OldestEvent: oldest})
	if err != nil {
		return fmt.Errorf("marshaling recompute task: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicRecompute, msg); err != nil {
		return fmt.Errorf("publishing recompute task: %w", err)
	}
	metrics.TasksPublished.WithLabelValues(TopicRecompute).Inc()
	return nil
}
