// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package queue

import (
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/models"
)

// AppendEvent records a locally captured time event as pending. Events
// stay pending until the server acknowledges the batch that carried them.
// Writing the same event id twice overwrites; the id is the idempotency
// key end to end.
func (s *Store) AppendEvent(e *models.TimeEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", e.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(e.ID), data)
	})
	if err != nil {
		return fmt.Errorf("appending event %s: %w", e.ID, err)
	}
	s.refreshDepthGauges()
	logging.Debug().Str("event_id", e.ID).Str("type", string(e.Type)).
		Msg("Event recorded locally")
	return nil
}

// PendingEvents returns all unacknowledged events sorted by timestamp,
// ties broken by id for a deterministic batch order.
func (s *Store) PendingEvents() ([]models.TimeEvent, error) {
	var out []models.TimeEvent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixEvent)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e models.TimeEvent
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("unmarshaling event %s: %w", it.Item().Key(), err)
				}
				out = append(out, e)
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

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// AcknowledgeEvents removes events the server has accepted. Only the ids
// echoed back by the server are removed; anything recorded after the
// batch was cut stays pending for the next pass.
func (s *Store) AcknowledgeEvents(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(eventKey(id)); err != nil {
				return fmt.Errorf("acknowledging event %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.refreshDepthGauges()
	logging.Debug().Int("count", len(ids)).Msg("Events acknowledged")
	return nil
}

// PendingEventCount returns the number of unacknowledged events.
func (s *Store) PendingEventCount() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		prefix := []byte(prefixEvent)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// RewriteEventRefs substitutes a temporary task/team id with its canonical
// id in every pending event.
func (s *Store) RewriteEventRefs(tempID, canonicalID string) (int, error) {
	if tempID == "" || tempID == canonicalID {
		return 0, nil
	}
	events, err := s.PendingEvents()
	if err != nil {
		return 0, err
	}

	rewritten := 0
	for i := range events {
		e := &events[i]
		changed := false
		if e.TaskID == tempID {
			e.TaskID = canonicalID
			changed = true
		}
		if e.TeamID == tempID {
			e.TeamID = canonicalID
			changed = true
		}
		if !changed {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return rewritten, fmt.Errorf("marshaling event %s: %w", e.ID, err)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(eventKey(e.ID), data)
		})
		if err != nil {
			return rewritten, fmt.Errorf("rewriting event %s: %w", e.ID, err)
		}
		rewritten++
	}
	if rewritten > 0 {
		logging.Info().Str("temp_id", tempID).Str("canonical_id", canonicalID).
			Int("events", rewritten).Msg("Temp id reconciled in event log")
	}
	return rewritten, nil
}
