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

// AddSaleRecord stores a new sale record
func (d *Database) AddSaleRecord(sale *models.SaleRecord, txn *gorm.DB) error {
	if result := d.conn(txn).Create(sale); result.Error != nil {
		return fmt.Errorf("add sale record: %w", result.Error)
	}
	return nil
}

// GetSaleRecord returns the sale record for a subject, or nil
func (d *Database) GetSaleRecord(
	subject uint64,
	txn *gorm.DB,
) (*models.SaleRecord, error) {
	var sale models.SaleRecord
	result := d.conn(txn).Where("subject = ?", subject).First(&sale)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &sale, nil
}

// UpdateSaleRecord stores updated sale record state
func (d *Database) UpdateSaleRecord(
	sale *models.SaleRecord,
	txn *gorm.DB,
) error {
	if result := d.conn(txn).Save(sale); result.Error != nil {
		return fmt.Errorf("update sale record: %w", result.Error)
	}
	return nil
}

// DeleteSaleRecord removes a subject's sale record
func (d *Database) DeleteSaleRecord(subject uint64, txn *gorm.DB) error {
	if result := d.conn(txn).Where("subject = ?", subject).
		Delete(&models.SaleRecord{}); result.Error != nil {
		return fmt.Errorf("delete sale record: %w", result.Error)
	}
	return nil
}

// AddToFundPool accumulates proceeds into a subject's per-asset pool,
// creating the pool row on first use
func (d *Database) AddToFundPool(
	subject uint64,
	asset uint64,
	amount uint64,
	txn *gorm.DB,
) error {
	conn := d.conn(txn)
	var pool models.FundPool
	result := conn.Where("subject = ? AND asset = ?", subject, asset).
		First(&pool)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		pool = models.FundPool{
			Subject: subject,
			Asset:   asset,
			Amount:  amount,
		}
		if result := conn.Create(&pool); result.Error != nil {
			return fmt.Errorf("add fund pool: %w", result.Error)
		}
		return nil
	}
	pool.Amount += amount
	if result := conn.Save(&pool); result.Error != nil {
		return fmt.Errorf("update fund pool: %w", result.Error)
	}
	return nil
}

// GetFundPools returns a subject's pools in ascending asset order. The
// ordering is what makes multi-pool claim drains deterministic.
func (d *Database) GetFundPools(
	subject uint64,
	txn *gorm.DB,
) ([]models.FundPool, error) {
	var pools []models.FundPool
	result := d.conn(txn).Where("subject = ?", subject).
		Order("asset ASC").
		Find(&pools)
	if result.Error != nil {
		return nil, result.Error
	}
	return pools, nil
}

// UpdateFundPool stores an updated pool amount, removing the row when it
// has drained to zero
func (d *Database) UpdateFundPool(
	pool *models.FundPool,
	txn *gorm.DB,
) error {
	conn := d.conn(txn)
	if pool.Amount == 0 {
		if result := conn.Delete(pool); result.Error != nil {
			return fmt.Errorf("delete fund pool: %w", result.Error)
		}
		return nil
	}
	if result := conn.Save(pool); result.Error != nil {
		return fmt.Errorf("update fund pool: %w", result.Error)
	}
	return nil
}

// DeleteFundPools removes all of a subject's pools
func (d *Database) DeleteFundPools(subject uint64, txn *gorm.DB) error {
	if result := d.conn(txn).Where("subject = ?", subject).
		Delete(&models.FundPool{}); result.Error != nil {
		return fmt.Errorf("delete fund pools: %w", result.Error)
	}
	return nil
}
