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

// Package tick implements the expiring-deadline scheduler. Future ticks map
// to bounded buckets of pending entries; when a tick arrives the whole
// bucket is taken and each entry is dispatched to the resolver registered
// for its kind. The tick source is external and assumed monotonic and
// gap-free; the scheduler does not verify that.
package tick

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

const ResolutionFailedEventType event.EventType = "tick.resolution_failed"

// ResolutionFailedEvent is published when one entry's resolver fails.
// Sibling entries in the same tick still resolve.
type ResolutionFailedEvent struct {
	Tick  uint64
	Kind  uint8
	RefID uint64
	Error string
}

// DefaultBucketCapacity bounds how many deadlines may share one tick
const DefaultBucketCapacity = 32

// BucketFullError is returned when a tick's bucket has no room left
type BucketFullError struct {
	Tick     uint64
	Capacity int64
}

func (e *BucketFullError) Error() string {
	return fmt.Sprintf(
		"schedule bucket full: tick=%d capacity=%d",
		e.Tick,
		e.Capacity,
	)
}

// ResolverFunc resolves one due entry. Resolvers run their own transactions
// so that one entry's failure cannot leave partial state or affect sibling
// entries.
type ResolverFunc func(entry models.ScheduleEntry) error

type SchedulerConfig struct {
	Logger         *slog.Logger
	EventBus       *event.EventBus
	PromRegistry   prometheus.Registerer
	Database       *database.Database
	BucketCapacity int64
}

type Scheduler struct {
	config    SchedulerConfig
	logger    *slog.Logger
	eventBus  *event.EventBus
	db        *database.Database
	resolvers map[uint8]ResolverFunc
	metrics   struct {
		entriesResolved prometheus.Counter
		entriesFailed   prometheus.Counter
	}
}

func NewScheduler(config SchedulerConfig) *Scheduler {
	s := &Scheduler{
		config:    config,
		eventBus:  config.EventBus,
		db:        config.Database,
		resolvers: make(map[uint8]ResolverFunc),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = config.Logger
	}
	if s.config.BucketCapacity <= 0 {
		s.config.BucketCapacity = DefaultBucketCapacity
	}
	promautoFactory := promauto.With(config.PromRegistry)
	s.metrics.entriesResolved = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_schedule_entries_resolved_total",
			Help: "total schedule entries resolved",
		},
	)
	s.metrics.entriesFailed = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_schedule_entries_failed_total",
			Help: "total schedule entries whose resolver failed",
		},
	)
	return s
}

// RegisterResolver installs the resolver for a schedule entry kind
func (s *Scheduler) RegisterResolver(kind uint8, fn ResolverFunc) {
	s.resolvers[kind] = fn
}

// Schedule inserts an entry into a tick's bucket within the caller's
// transaction. Returns BucketFullError when the bucket is at capacity.
func (s *Scheduler) Schedule(
	txn *gorm.DB,
	tick uint64,
	kind uint8,
	refId uint64,
) error {
	count, err := s.db.CountScheduleEntries(tick, txn)
	if err != nil {
		return err
	}
	if count >= s.config.BucketCapacity {
		return &BucketFullError{Tick: tick, Capacity: s.config.BucketCapacity}
	}
	return s.db.AddScheduleEntry(
		&models.ScheduleEntry{Tick: tick, Kind: kind, RefID: refId},
		txn,
	)
}

// Cancel removes a pending entry before its tick arrives
func (s *Scheduler) Cancel(txn *gorm.DB, kind uint8, refId uint64) error {
	return s.db.DeleteScheduleEntry(kind, refId, txn)
}

// TakeBucket removes and returns a tick's full bucket within the caller's
// transaction, so the caller can commit the take together with its own
// bookkeeping (such as advancing a persisted clock) before dispatching.
func (s *Scheduler) TakeBucket(
	txn *gorm.DB,
	tick uint64,
) ([]models.ScheduleEntry, error) {
	return s.db.TakeScheduleEntries(tick, txn)
}

// OnTick takes the tick's full bucket and dispatches it
func (s *Scheduler) OnTick(tick uint64) error {
	var entries []models.ScheduleEntry
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		entries, err = s.TakeBucket(txn, tick)
		return err
	})
	if err != nil {
		return fmt.Errorf("take tick %d bucket: %w", tick, err)
	}
	s.Dispatch(tick, entries)
	return nil
}

// Dispatch sends each taken entry to its resolver in insertion order. A
// resolver failure is logged, counted, and published as a signal carrying
// the entry and error; it does not prevent resolution of the other entries
// in the same tick.
func (s *Scheduler) Dispatch(tick uint64, entries []models.ScheduleEntry) {
	for _, entry := range entries {
		resolver, ok := s.resolvers[entry.Kind]
		if !ok {
			s.reportFailure(
				tick,
				entry,
				fmt.Errorf("no resolver for kind %d", entry.Kind),
			)
			continue
		}
		if err := resolver(entry); err != nil {
			s.reportFailure(tick, entry, err)
			continue
		}
		s.metrics.entriesResolved.Inc()
	}
}

func (s *Scheduler) reportFailure(
	tick uint64,
	entry models.ScheduleEntry,
	err error,
) {
	s.logger.Error(
		"schedule entry resolution failed",
		"component", "scheduler",
		"tick", tick,
		"kind", entry.Kind,
		"ref_id", entry.RefID,
		"error", err,
	)
	s.metrics.entriesFailed.Inc()
	if s.eventBus != nil {
		s.eventBus.Publish(
			ResolutionFailedEventType,
			event.NewEvent(
				ResolutionFailedEventType,
				ResolutionFailedEvent{
					Tick:  tick,
					Kind:  entry.Kind,
					RefID: entry.RefID,
					Error: err.Error(),
				},
			),
		)
	}
}
