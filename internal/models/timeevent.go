// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package models

import (
	"fmt"
	"time"
)

// EventType identifies the kind of work-time transition a TimeEvent records.
type EventType string

// Time event types. The set is closed; unknown types are rejected at ingestion.
const (
	EventClockIn    EventType = "CLOCK_IN"
	EventClockOut   EventType = "CLOCK_OUT"
	EventStartTask  EventType = "START_TASK"
	EventStopTask   EventType = "STOP_TASK"
	EventBreakStart EventType = "BREAK_START"
	EventBreakEnd   EventType = "BREAK_END"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventClockIn, EventClockOut, EventStartTask, EventStopTask, EventBreakStart, EventBreakEnd:
		return true
	default:
		return false
	}
}

// TimeEvent is the atomic fact recorded by a device: a clock, task, or break
// transition. Events are created client-side with a client-generated globally
// unique ID, which doubles as the idempotency key at ingestion: resubmitting
// an event under the same ID overwrites rather than duplicates.
//
// Once acknowledged by the server an event is immutable except for idempotent
// re-submission; the server never deletes events.
type TimeEvent struct {
	// ID is client-generated and globally unique (UUID). It is the upsert
	// key at ingestion.
	ID string `json:"id" validate:"required,max=64"`

	// UserID is set server-side from the authenticated subject; a value
	// supplied by the client is overwritten.
	UserID string `json:"user_id,omitempty"`

	Type      EventType `json:"type" validate:"required,oneof=CLOCK_IN CLOCK_OUT START_TASK STOP_TASK BREAK_START BREAK_END"`
	Timestamp time.Time `json:"timestamp" validate:"required"`

	// TaskID and TeamID are optional foreign references. Unresolvable
	// references are nulled at ingestion rather than rejecting the event.
	TaskID string `json:"task_id,omitempty" validate:"max=64"`
	TeamID string `json:"team_id,omitempty" validate:"max=64"`

	Note string `json:"note,omitempty" validate:"max=1024"`
}

// Validate checks required fields. Used on the ingestion path before the
// struct-tag validator runs per-field constraints.
func (e *TimeEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("time event: missing id")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("time event %s: unknown type %q", e.ID, e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("time event %s: missing timestamp", e.ID)
	}
	return nil
}

// StartsAccrual reports whether this event type puts or keeps the user in the
// clocked-in (time accruing) state. Stopping a task deliberately does NOT end
// the clocked-in state: time between tasks while on the clock still counts.
func (t EventType) StartsAccrual() bool {
	switch t {
	case EventClockIn, EventStartTask, EventStopTask:
		return true
	default:
		return false
	}
}

// BatchRequest is the payload of the batch sync endpoint.
type BatchRequest struct {
	Events []TimeEvent `json:"events"`
}

// BatchResult summarizes a successfully ingested batch. AcceptedIDs
// echoes the event ids the commit covered; clients acknowledge exactly
// these.
type BatchResult struct {
	Accepted    int      `json:"accepted"`
	NulledRefs  int      `json:"nulled_refs"`
	AcceptedIDs []string `json:"accepted_ids,omitempty"`
}
