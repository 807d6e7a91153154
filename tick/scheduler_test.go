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

package tick_test

import (
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/blinklabs-io/deed/tick"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestScheduler(
	t *testing.T,
) (*tick.Scheduler, *database.Database, *event.EventBus) {
	t.Helper()
	db, err := database.New(nil, t.TempDir())
	require.NoError(t, err)
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(func() {
		bus.Stop()
		db.Close()
	})
	s := tick.NewScheduler(tick.SchedulerConfig{
		EventBus: bus,
		Database: db,
	})
	return s, db, bus
}

func TestDispatchInInsertionOrder(t *testing.T) {
	s, db, _ := setupTestScheduler(t)
	var resolved []uint64
	s.RegisterResolver(models.ScheduleKindRound, func(entry models.ScheduleEntry) error {
		resolved = append(resolved, entry.RefID)
		return nil
	})
	err := db.Transaction(func(txn *gorm.DB) error {
		for _, refId := range []uint64{3, 1, 2} {
			if err := s.Schedule(txn, 5, models.ScheduleKindRound, refId); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// Nothing due before the deadline tick
	require.NoError(t, s.OnTick(4))
	assert.Empty(t, resolved)

	require.NoError(t, s.OnTick(5))
	assert.Equal(t, []uint64{3, 1, 2}, resolved)

	// The bucket is consumed
	require.NoError(t, s.OnTick(5))
	assert.Len(t, resolved, 3)
}

func TestResolverFailureDoesNotBlockSiblings(t *testing.T) {
	s, db, bus := setupTestScheduler(t)
	_, failCh := bus.Subscribe(tick.ResolutionFailedEventType)
	bogus := errors.New("bogus")
	var resolved []uint64
	s.RegisterResolver(models.ScheduleKindRound, func(entry models.ScheduleEntry) error {
		if entry.RefID == 2 {
			return bogus
		}
		resolved = append(resolved, entry.RefID)
		return nil
	})
	err := db.Transaction(func(txn *gorm.DB) error {
		for _, refId := range []uint64{1, 2, 3} {
			if err := s.Schedule(txn, 1, models.ScheduleKindRound, refId); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.OnTick(1))
	assert.Equal(t, []uint64{1, 3}, resolved)

	select {
	case evt := <-failCh:
		failure, ok := evt.Data.(tick.ResolutionFailedEvent)
		require.True(t, ok)
		assert.Equal(t, uint64(2), failure.RefID)
		assert.Contains(t, failure.Error, "bogus")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for resolution failure event")
	}
}

func TestMissingResolverReportsFailure(t *testing.T) {
	s, db, bus := setupTestScheduler(t)
	_, failCh := bus.Subscribe(tick.ResolutionFailedEventType)
	err := db.Transaction(func(txn *gorm.DB) error {
		return s.Schedule(txn, 1, models.ScheduleKindAuction, 9)
	})
	require.NoError(t, err)

	require.NoError(t, s.OnTick(1))
	select {
	case evt := <-failCh:
		failure, ok := evt.Data.(tick.ResolutionFailedEvent)
		require.True(t, ok)
		assert.Equal(t, uint64(9), failure.RefID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for resolution failure event")
	}
}

func TestBucketCapacity(t *testing.T) {
	db, err := database.New(nil, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	s := tick.NewScheduler(tick.SchedulerConfig{
		Database:       db,
		BucketCapacity: 2,
	})
	err = db.Transaction(func(txn *gorm.DB) error {
		if err := s.Schedule(txn, 7, models.ScheduleKindRound, 1); err != nil {
			return err
		}
		return s.Schedule(txn, 7, models.ScheduleKindRound, 2)
	})
	require.NoError(t, err)

	err = db.Transaction(func(txn *gorm.DB) error {
		return s.Schedule(txn, 7, models.ScheduleKindRound, 3)
	})
	var fullErr *tick.BucketFullError
	require.ErrorAs(t, err, &fullErr)
	assert.Equal(t, uint64(7), fullErr.Tick)

	// A different tick still has room
	err = db.Transaction(func(txn *gorm.DB) error {
		return s.Schedule(txn, 8, models.ScheduleKindRound, 3)
	})
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	s, db, _ := setupTestScheduler(t)
	var resolved []uint64
	s.RegisterResolver(models.ScheduleKindRound, func(entry models.ScheduleEntry) error {
		resolved = append(resolved, entry.RefID)
		return nil
	})
	err := db.Transaction(func(txn *gorm.DB) error {
		if err := s.Schedule(txn, 3, models.ScheduleKindRound, 1); err != nil {
			return err
		}
		if err := s.Schedule(txn, 3, models.ScheduleKindRound, 2); err != nil {
			return err
		}
		return s.Cancel(txn, models.ScheduleKindRound, 1)
	})
	require.NoError(t, err)

	require.NoError(t, s.OnTick(3))
	assert.Equal(t, []uint64{2}, resolved)
}
