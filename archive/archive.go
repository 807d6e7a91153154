// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive provides an append-only audit log of engine events,
// backed by Badger. Records are written from event bus subscriptions after
// the originating action has committed, so the archive only ever contains
// signals from actions that actually happened. Archiving is best effort:
// a write failure is logged but never fails or rolls back the action.
package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/deed/event"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const recordKeyPrefix = "rec:"

// Record is one archived engine event
type Record struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type ArchiveConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is where the archive lives on disk. Empty means in-memory,
	// which is what tests use.
	DataDir string
}

type Archive struct {
	logger  *slog.Logger
	db      *badger.DB
	mu      sync.Mutex
	lastSeq uint64
	metrics struct {
		recordsWritten prometheus.Counter
		writeFailures  prometheus.Counter
	}
}

func NewArchive(config ArchiveConfig) (*Archive, error) {
	a := &Archive{}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		a.logger = config.Logger
	}
	badgerOpts := badger.DefaultOptions(config.DataDir).
		WithLogger(nil)
	if config.DataDir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a.db = db
	if err := a.loadLastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	promautoFactory := promauto.With(config.PromRegistry)
	a.metrics.recordsWritten = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_archive_records_written_total",
			Help: "total audit records written",
		},
	)
	a.metrics.writeFailures = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_archive_write_failures_total",
			Help: "total audit record write failures",
		},
	)
	return a, nil
}

// loadLastSeq recovers the sequence counter from the highest existing key
func (a *Archive) loadLastSeq() error {
	return a.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		// Seek to the end of the record keyspace
		seekKey := append(
			[]byte(recordKeyPrefix),
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		)
		it.Seek(seekKey)
		if !it.ValidForPrefix([]byte(recordKeyPrefix)) {
			return nil
		}
		key := it.Item().Key()
		a.lastSeq = binary.BigEndian.Uint64(key[len(recordKeyPrefix):])
		return nil
	})
}

// Attach subscribes the archive to the given event types on a bus. Every
// published event of those types becomes an audit record.
func (a *Archive) Attach(bus *event.EventBus, eventTypes ...event.EventType) {
	for _, eventType := range eventTypes {
		bus.SubscribeFunc(eventType, func(evt event.Event) {
			if err := a.Append(evt); err != nil {
				a.metrics.writeFailures.Inc()
				a.logger.Error(
					"failed to archive event",
					"component", "archive",
					"type", string(evt.Type),
					"error", err,
				)
			}
		})
	}
}

// Append writes one event to the archive
func (a *Archive) Append(evt event.Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	seq := a.lastSeq + 1
	record := Record{
		Seq:       seq,
		Type:      string(evt.Type),
		Timestamp: evt.Timestamp,
		Data:      data,
	}
	value, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(seq), value)
	})
	if err != nil {
		return fmt.Errorf("write archive record: %w", err)
	}
	a.lastSeq = seq
	a.metrics.recordsWritten.Inc()
	return nil
}

// Records returns archived records with sequence numbers in [fromSeq,
// toSeq]
func (a *Archive) Records(fromSeq, toSeq uint64) ([]Record, error) {
	var records []Record
	err := a.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(recordKey(fromSeq)); it.ValidForPrefix([]byte(recordKeyPrefix)); it.Next() {
			var record Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			if record.Seq > toSeq {
				break
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Len returns the number of records in the archive
func (a *Archive) Len() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeq, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(recordKeyPrefix)+8)
	copy(key, recordKeyPrefix)
	binary.BigEndian.PutUint64(key[len(recordKeyPrefix):], seq)
	return key
}
