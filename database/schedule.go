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

package database

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/deed/database/models"
	"gorm.io/gorm"
)

// AddScheduleEntry inserts a deadline entry into a tick's bucket
func (d *Database) AddScheduleEntry(
	entry *models.ScheduleEntry,
	txn *gorm.DB,
) error {
	if result := d.conn(txn).Create(entry); result.Error != nil {
		return fmt.Errorf("add schedule entry: %w", result.Error)
	}
	return nil
}

// CountScheduleEntries returns the number of entries in a tick's bucket
func (d *Database) CountScheduleEntries(
	tick uint64,
	txn *gorm.DB,
) (int64, error) {
	var count int64
	result := d.conn(txn).Model(&models.ScheduleEntry{}).
		Where("tick = ?", tick).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

// TakeScheduleEntries removes and returns a tick's full bucket in insertion
// order
func (d *Database) TakeScheduleEntries(
	tick uint64,
	txn *gorm.DB,
) ([]models.ScheduleEntry, error) {
	conn := d.conn(txn)
	var entries []models.ScheduleEntry
	result := conn.Where("tick = ?", tick).
		Order("id ASC").
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if result := conn.Where("tick = ?", tick).
		Delete(&models.ScheduleEntry{}); result.Error != nil {
		return nil, fmt.Errorf("take schedule entries: %w", result.Error)
	}
	return entries, nil
}

// GetTickState returns the persisted logical clock, which starts at zero
func (d *Database) GetTickState(txn *gorm.DB) (uint64, error) {
	var state models.TickState
	result := d.conn(txn).First(&state)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return state.Tick, nil
}

// SetTickState stores the logical clock
func (d *Database) SetTickState(tick uint64, txn *gorm.DB) error {
	state := models.TickState{ID: 1, Tick: tick}
	if result := d.conn(txn).Save(&state); result.Error != nil {
		return fmt.Errorf("set tick state: %w", result.Error)
	}
	return nil
}

// DeleteScheduleEntry removes a single pending deadline entry. Used when a
// tracked item is torn down before its expiry.
func (d *Database) DeleteScheduleEntry(
	kind uint8,
	refId uint64,
	txn *gorm.DB,
) error {
	if result := d.conn(txn).
		Where("kind = ? AND ref_id = ?", kind, refId).
		Delete(&models.ScheduleEntry{}); result.Error != nil {
		return fmt.Errorf("delete schedule entry: %w", result.Error)
	}
	return nil
}
