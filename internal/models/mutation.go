// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// OfflineMutation is a generic queued write captured while offline: a
// create/update/delete of any non-time-event entity (team, ticket, profile).
// The queue is protocol-agnostic: it replays (Method, Path, Body) against
// the server verbatim, in insertion order.
type OfflineMutation struct {
	// Seq is assigned by the queue on enqueue; iteration in Seq order is
	// insertion order. FIFO must be preserved across retries.
	Seq uint64 `json:"seq"`

	// Path is the server-relative request path, e.g. "/api/v1/teams".
	Path string `json:"path"`

	// Method is the HTTP method of the replayed write.
	Method string `json:"method"`

	// Body is the serialized request payload.
	Body json.RawMessage `json:"body,omitempty"`

	// TempID is the locally-invented identifier for an entity created
	// offline. When the server responds with a different canonical id the
	// reconciler rewrites every local reference from TempID to it.
	TempID string `json:"temp_id,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// Retry bookkeeping.
	Attempts      int       `json:"attempts,omitempty"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// MutationResponse is the subset of a server reply the drain loop cares
// about: the canonical id assigned to an entity created with a temp id.
type MutationResponse struct {
	ID string `json:"id"`
}
