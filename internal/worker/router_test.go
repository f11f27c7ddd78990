// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/models"
)

func configForTest() config.WorkerConfig {
	return config.WorkerConfig{ChannelBuffer: 8}
}

type fakeEngine struct {
	recomputed []string
	oldests    []time.Time
	recompErr  error
	live       *models.LiveStats
	liveErr    error
}

func (f *fakeEngine) RecomputeSince(_ context.Context, userID string, oldest time.Time) error {
	f.recomputed = append(f.recomputed, userID)
	f.oldests = append(f.oldests, oldest)
	return f.recompErr
}

func (f *fakeEngine) Live(_ context.Context, userID string) (*models.LiveStats, error) {
	if f.liveErr != nil {
		return nil, f.liveErr
	}
	if f.live != nil {
		return f.live, nil
	}
	return &models.LiveStats{UserID: userID}, nil
}

type fakeNotifier struct {
	sent []models.StatsUpdate
}

func (f *fakeNotifier) SendToUser(_ string, update models.StatsUpdate) {
	f.sent = append(f.sent, update)
}

func taskMessage(t *testing.T, userID string, oldest time.Time) *message.Message {
	t.Helper()
	payload, err := json.Marshal(recomputeTask{UserID: userID, OldestEvent: oldest})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return message.NewMessage("m1", payload)
}

func TestRecomputeHandler(t *testing.T) {
	engine := &fakeEngine{
		live: &models.LiveStats{UserID: "u1", TotalHoursToday: 2.5, TotalHoursWeek: 10},
	}
	notifier := &fakeNotifier{}
	handler := recomputeHandler(engine, notifier)

	oldest := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := handler(taskMessage(t, "u1", oldest)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(engine.recomputed) != 1 || engine.recomputed[0] != "u1" {
		t.Errorf("recomputed = %v", engine.recomputed)
	}
	if len(engine.oldests) != 1 || !engine.oldests[0].Equal(oldest) {
		t.Errorf("oldest = %v, want the task's batch timestamp", engine.oldests)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].TotalHoursToday != 2.5 {
		t.Errorf("sent = %+v", notifier.sent)
	}
}

func TestRecomputeHandlerPropagatesRecomputeError(t *testing.T) {
	engine := &fakeEngine{recompErr: errors.New("db locked")}
	handler := recomputeHandler(engine, &fakeNotifier{})

	if err := handler(taskMessage(t, "u1", time.Time{})); err == nil {
		t.Error("expected error to trigger retry middleware")
	}
}

func TestRecomputeHandlerDropsPoisonMessage(t *testing.T) {
	engine := &fakeEngine{}
	handler := recomputeHandler(engine, &fakeNotifier{})

	if err := handler(message.NewMessage("m1", []byte("not json"))); err != nil {
		t.Errorf("poison message must be dropped, got %v", err)
	}
	if len(engine.recomputed) != 0 {
		t.Error("poison message reached the engine")
	}
}

func TestRecomputeHandlerNotifyFailureIsSoft(t *testing.T) {
	engine := &fakeEngine{liveErr: errors.New("stats gone")}
	handler := recomputeHandler(engine, &fakeNotifier{})

	// Recompute succeeded; losing the notification must not retry the
	// whole task.
	if err := handler(taskMessage(t, "u1", time.Time{})); err != nil {
		t.Errorf("handler: %v", err)
	}
}

func TestBusPublishRecompute(t *testing.T) {
	bus := NewBus(configForTest())
	defer func() { _ = bus.Close() }()

	msgs, err := bus.pubsub.Subscribe(context.Background(), TopicRecompute)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	oldest := time.Date(2026, 2, 18, 8, 0, 0, 0, time.UTC)
	if err := bus.PublishRecompute("u1", oldest); err != nil {
		t.Fatalf("PublishRecompute: %v", err)
	}

	msg := <-msgs
	var task recomputeTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.UserID != "u1" || !task.OldestEvent.Equal(oldest) {
		t.Errorf("task = %+v", task)
	}
	msg.Ack()
}
