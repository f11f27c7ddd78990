// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package queue

import (
	"bytes"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/models"
)

// Enqueue appends a mutation to the queue, assigning its sequence number.
// The write is durable before Enqueue returns.
func (s *Store) Enqueue(m *models.OfflineMutation) error {
	seq, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("allocating mutation seq: %w", err)
	}
	m.Seq = seq
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = now()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling mutation %d: %w", seq, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mutationKey(seq), data)
	})
	if err != nil {
		return fmt.Errorf("enqueuing mutation %d: %w", seq, err)
	}

	s.refreshDepthGauges()
	logging.Debug().Uint64("seq", seq).Str("method", m.Method).
		Str("path", m.Path).Msg("Mutation enqueued")
	return nil
}

// Mutations returns every queued mutation in insertion order.
func (s *Store) Mutations() ([]models.OfflineMutation, error) {
	var out []models.OfflineMutation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixMutation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var m models.OfflineMutation
				if err := json.Unmarshal(val, &m); err != nil {
					return fmt.Errorf("unmarshaling mutation %s: %w", it.Item().Key(), err)
				}
				out = append(out, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Head returns the oldest queued mutation, or nil if the queue is empty.
func (s *Store) Head() (*models.OfflineMutation, error) {
	all, err := s.Mutations()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

// Remove deletes one mutation by sequence number. Called after the server
// confirmed the replay, or when a permanent client error makes the entry
// unreplayable.
func (s *Store) Remove(seq uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(mutationKey(seq))
	})
	if err != nil {
		return fmt.Errorf("removing mutation %d: %w", seq, err)
	}
	s.refreshDepthGauges()
	return nil
}

// UpdateMutation rewrites a queued mutation in place (retry bookkeeping,
// reconciled references). The sequence number must not change.
func (s *Store) UpdateMutation(m *models.OfflineMutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling mutation %d: %w", m.Seq, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mutationKey(m.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("updating mutation %d: %w", m.Seq, err)
	}
	return nil
}

// ClearMutations drops the entire queue. Used when the session is
// invalid: queued writes were made under an identity that can no longer
// be verified, so none of them may be replayed.
func (s *Store) ClearMutations() (int, error) {
	dropped := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()

		prefix := []byte(prefixMutation)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
			dropped++
		}
		return nil
	})
	if err != nil {
		return dropped, fmt.Errorf("clearing mutation queue: %w", err)
	}
	s.refreshDepthGauges()
	if dropped > 0 {
		logging.Warn().Int("dropped", dropped).Msg("Mutation queue cleared")
	}
	return dropped, nil
}

// MutationCount returns the number of queued mutations.
func (s *Store) MutationCount() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		prefix := []byte(prefixMutation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// RewriteTempID substitutes a temporary entity id with its canonical
// server-assigned id in every remaining queued mutation: request paths,
// body payloads and temp-id markers alike. Later queued writes may
// reference an entity created earlier in the same offline session.
func (s *Store) RewriteTempID(tempID, canonicalID string) (int, error) {
	if tempID == "" || tempID == canonicalID {
		return 0, nil
	}
	all, err := s.Mutations()
	if err != nil {
		return 0, err
	}

	rewritten := 0
	for i := range all {
		m := &all[i]
		changed := false

		if bytes.Contains(m.Body, []byte(tempID)) {
			m.Body = bytes.ReplaceAll(m.Body, []byte(tempID), []byte(canonicalID))
			changed = true
		}
		if p := strings.ReplaceAll(m.Path, tempID, canonicalID); p != m.Path {
			m.Path = p
			changed = true
		}
		if m.TempID == tempID {
			m.TempID = canonicalID
			changed = true
		}

		if changed {
			if err := s.UpdateMutation(m); err != nil {
				return rewritten, err
			}
			rewritten++
		}
	}
	if rewritten > 0 {
		logging.Info().Str("temp_id", tempID).Str("canonical_id", canonicalID).
			Int("mutations", rewritten).Msg("Temp id reconciled in queue")
	}
	return rewritten, nil
}
