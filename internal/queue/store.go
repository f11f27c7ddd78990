// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package queue implements the agent's durable local store on BadgerDB:
// the FIFO offline mutation queue and the pending time-event log. Both
// survive process restarts; entries are removed only after the server
// acknowledges them.
package queue

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/metrics"
)

// Key prefixes. Mutations are keyed by a zero-padded sequence number so
// Badger's lexicographic iteration order is insertion order.
const (
	prefixMutation = "mutation:"
	prefixEvent    = "event:pending:"

	seqKey = "seq:mutation"

	// seqBandwidth is how many sequence numbers Badger leases at a time.
	// A crash can skip up to this many numbers; ordering is unaffected.
	seqBandwidth = 64
)

// Store is the shared Badger database underneath the mutation queue and
// the event log.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens (or creates) the agent store at cfg.Path.
func Open(cfg config.QueueConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening agent store at %s: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening mutation sequence: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Bool("sync_writes", cfg.SyncWrites).
		Msg("Agent store opened")

	s := &Store{db: db, seq: seq}
	s.refreshDepthGauges()
	return s, nil
}

// refreshDepthGauges re-counts both queues into the depth gauges. Called
// on open and after every mutating operation; counts survive restarts
// while in-memory gauges do not.
func (s *Store) refreshDepthGauges() {
	if n, err := s.MutationCount(); err == nil {
		metrics.QueueDepth.WithLabelValues("mutations").Set(float64(n))
	}
	if n, err := s.PendingEventCount(); err == nil {
		metrics.QueueDepth.WithLabelValues("events").Set(float64(n))
	}
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("Releasing mutation sequence failed")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing agent store: %w", err)
	}
	return nil
}

// RunGC runs Badger value-log garbage collection until there is nothing
// left to collect. Call periodically from the agent loop.
func (s *Store) RunGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

func mutationKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixMutation, seq))
}

func eventKey(id string) []byte {
	return []byte(prefixEvent + id)
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	logging.Error().Msgf("badger: "+f, v...)
}
func (badgerLogger) Warningf(f string, v ...interface{}) {
	logging.Warn().Msgf("badger: "+f, v...)
}
func (badgerLogger) Infof(f string, v ...interface{}) {
	logging.Debug().Msgf("badger: "+f, v...)
}
func (badgerLogger) Debugf(f string, v ...interface{}) {
	logging.Trace().Msgf("badger: "+f, v...)
}

// now is swappable in tests.
var now = time.Now
