// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

// Package locationlog persists every accepted position report to an
// append-only BadgerDB log. The in-memory tracker keeps the bounded hot
// history; this log is the unbounded archive that survives restarts and
// backs trail queries.
package locationlog

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/fleetglass/fleetglass/internal/metrics"
	"github.com/fleetglass/fleetglass/internal/models"
)

// Key prefix for position records. Keys embed the observation timestamp
// and a process-local sequence number so that lexicographic key order is
// write order per vehicle, even when two reports share a timestamp.
const positionKeyPrefix = "pos:"

// Log is an append-only position archive backed by BadgerDB.
type Log struct {
	db  *badger.DB
	seq atomic.Uint64
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Log, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open location log: %w", err)
	}
	return &Log{db: db}, nil
}

// NewLog wraps an already-open BadgerDB. Used by tests with in-memory
// databases.
func NewLog(db *badger.DB) *Log {
	return &Log{db: db}
}

func (l *Log) key(pos models.Position) []byte {
	seq := l.seq.Add(1)
	return []byte(fmt.Sprintf("%s%s:%020d:%06d", positionKeyPrefix, pos.VehicleID, pos.ObservedAt.UnixNano(), seq))
}

// Append durably records one position. Implements tracker.Appender.
func (l *Log) Append(ctx context.Context, pos models.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(pos)
	if err != nil {
		metrics.LocationLogErrors.Inc()
		return fmt.Errorf("marshal position: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(l.key(pos), data)
	})
	if err != nil {
		metrics.LocationLogErrors.Inc()
		return fmt.Errorf("append position: %w", err)
	}

	metrics.LocationLogAppends.Inc()
	return nil
}

// Recent returns up to limit archived positions for a vehicle, newest
// first.
func (l *Log) Recent(ctx context.Context, vehicleID string, limit int) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, nil
	}

	var out []models.Position
	prefix := []byte(positionKeyPrefix + vehicleID + ":")

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode, seek past the last possible key for this prefix
		// and walk backwards through it.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			item := it.Item()
			var pos models.Position
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &pos)
			})
			if err != nil {
				return fmt.Errorf("unmarshal position: %w", err)
			}
			out = append(out, pos)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan positions: %w", err)
	}

	return out, nil
}

// Count returns the number of archived records for a vehicle.
func (l *Log) Count(ctx context.Context, vehicleID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	prefix := []byte(positionKeyPrefix + vehicleID + ":")

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// Close flushes and closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
