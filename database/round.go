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

// AddRound stores a new round together with its empty tally
func (d *Database) AddRound(round *models.Round, txn *gorm.DB) error {
	conn := d.conn(txn)
	if result := conn.Create(round); result.Error != nil {
		return fmt.Errorf("add round: %w", result.Error)
	}
	tally := models.VoteTally{RoundID: round.ID}
	if result := conn.Create(&tally); result.Error != nil {
		return fmt.Errorf("add round tally: %w", result.Error)
	}
	return nil
}

// GetRound returns a round by ID, or nil when it does not exist
func (d *Database) GetRound(
	roundId uint64,
	txn *gorm.DB,
) (*models.Round, error) {
	var round models.Round
	result := d.conn(txn).Where("id = ?", roundId).First(&round)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &round, nil
}

// GetOpenRound returns the open round for a (subject, kind), or nil
func (d *Database) GetOpenRound(
	subject uint64,
	kind uint8,
	txn *gorm.DB,
) (*models.Round, error) {
	var round models.Round
	result := d.conn(txn).
		Where("subject = ? AND kind = ?", subject, kind).
		First(&round)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &round, nil
}

// GetRoundsBySubject returns every open round for a subject
func (d *Database) GetRoundsBySubject(
	subject uint64,
	txn *gorm.DB,
) ([]models.Round, error) {
	var rounds []models.Round
	result := d.conn(txn).Where("subject = ?", subject).Find(&rounds)
	if result.Error != nil {
		return nil, result.Error
	}
	return rounds, nil
}

// DeleteRound removes a round and its tally and vote records. This is the
// bookkeeping teardown performed at resolution.
func (d *Database) DeleteRound(roundId uint64, txn *gorm.DB) error {
	conn := d.conn(txn)
	if result := conn.Where("round_id = ?", roundId).
		Delete(&models.VoteRecord{}); result.Error != nil {
		return fmt.Errorf("delete vote records: %w", result.Error)
	}
	if result := conn.Where("round_id = ?", roundId).
		Delete(&models.VoteTally{}); result.Error != nil {
		return fmt.Errorf("delete vote tally: %w", result.Error)
	}
	if result := conn.Where("id = ?", roundId).
		Delete(&models.Round{}); result.Error != nil {
		return fmt.Errorf("delete round: %w", result.Error)
	}
	return nil
}

// GetVoteTally returns the tally for a round, or nil when it does not exist
func (d *Database) GetVoteTally(
	roundId uint64,
	txn *gorm.DB,
) (*models.VoteTally, error) {
	var tally models.VoteTally
	result := d.conn(txn).Where("round_id = ?", roundId).First(&tally)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &tally, nil
}

// UpdateVoteTally stores updated tally powers
func (d *Database) UpdateVoteTally(
	tally *models.VoteTally,
	txn *gorm.DB,
) error {
	if result := d.conn(txn).Save(tally); result.Error != nil {
		return fmt.Errorf("update vote tally: %w", result.Error)
	}
	return nil
}

// GetVoteRecord returns a voter's record for a round, or nil
func (d *Database) GetVoteRecord(
	roundId uint64,
	voter string,
	txn *gorm.DB,
) (*models.VoteRecord, error) {
	var record models.VoteRecord
	result := d.conn(txn).
		Where("round_id = ? AND voter = ?", roundId, voter).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// SetVoteRecord inserts or replaces a voter's record for a round
func (d *Database) SetVoteRecord(
	record *models.VoteRecord,
	txn *gorm.DB,
) error {
	if result := d.conn(txn).Save(record); result.Error != nil {
		return fmt.Errorf("set vote record: %w", result.Error)
	}
	return nil
}

// SumVoterHeldPower returns the total power a voter has held across open
// vote records for a subject, excluding the given round
func (d *Database) SumVoterHeldPower(
	subject uint64,
	voter string,
	excludeRoundId uint64,
	txn *gorm.DB,
) (uint64, error) {
	var total *uint64
	result := d.conn(txn).Model(&models.VoteRecord{}).
		Select("SUM(power)").
		Where(
			"subject = ? AND voter = ? AND round_id != ?",
			subject,
			voter,
			excludeRoundId,
		).
		Scan(&total)
	if result.Error != nil {
		return 0, result.Error
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
