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

// AddAuction stores a new auction
func (d *Database) AddAuction(auction *models.Auction, txn *gorm.DB) error {
	if result := d.conn(txn).Create(auction); result.Error != nil {
		return fmt.Errorf("add auction: %w", result.Error)
	}
	return nil
}

// GetAuction returns the auction for a subject, or nil when there is none
func (d *Database) GetAuction(
	subject uint64,
	txn *gorm.DB,
) (*models.Auction, error) {
	var auction models.Auction
	result := d.conn(txn).Where("subject = ?", subject).First(&auction)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &auction, nil
}

// UpdateAuction stores updated auction state
func (d *Database) UpdateAuction(
	auction *models.Auction,
	txn *gorm.DB,
) error {
	if result := d.conn(txn).Save(auction); result.Error != nil {
		return fmt.Errorf("update auction: %w", result.Error)
	}
	return nil
}

// DeleteAuction removes a subject's auction
func (d *Database) DeleteAuction(subject uint64, txn *gorm.DB) error {
	if result := d.conn(txn).Where("subject = ?", subject).
		Delete(&models.Auction{}); result.Error != nil {
		return fmt.Errorf("delete auction: %w", result.Error)
	}
	return nil
}
