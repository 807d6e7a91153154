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

// AddSubject registers a new subject
func (d *Database) AddSubject(subject *models.Subject, txn *gorm.DB) error {
	if result := d.conn(txn).Create(subject); result.Error != nil {
		return fmt.Errorf("add subject: %w", result.Error)
	}
	return nil
}

// GetSubject returns a subject by ID, or nil
func (d *Database) GetSubject(
	subjectId uint64,
	txn *gorm.DB,
) (*models.Subject, error) {
	var subject models.Subject
	result := d.conn(txn).Where("id = ?", subjectId).First(&subject)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &subject, nil
}

// DeleteSubject removes a subject row
func (d *Database) DeleteSubject(subjectId uint64, txn *gorm.DB) error {
	if result := d.conn(txn).Where("id = ?", subjectId).
		Delete(&models.Subject{}); result.Error != nil {
		return fmt.Errorf("delete subject: %w", result.Error)
	}
	return nil
}

// GetShareholding returns an account's shareholding in a subject, or nil
func (d *Database) GetShareholding(
	subject uint64,
	account string,
	txn *gorm.DB,
) (*models.Shareholding, error) {
	var holding models.Shareholding
	result := d.conn(txn).
		Where("subject = ? AND account = ?", subject, account).
		First(&holding)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &holding, nil
}

// SetShareholding inserts or updates a shareholding, removing the row when
// the amount reaches zero
func (d *Database) SetShareholding(
	holding *models.Shareholding,
	txn *gorm.DB,
) error {
	conn := d.conn(txn)
	if holding.Amount == 0 && holding.ID != 0 {
		if result := conn.Delete(holding); result.Error != nil {
			return fmt.Errorf("delete shareholding: %w", result.Error)
		}
		return nil
	}
	if result := conn.Save(holding); result.Error != nil {
		return fmt.Errorf("set shareholding: %w", result.Error)
	}
	return nil
}

// ListShareholdings returns all shareholdings for a subject
func (d *Database) ListShareholdings(
	subject uint64,
	txn *gorm.DB,
) ([]models.Shareholding, error) {
	var holdings []models.Shareholding
	result := d.conn(txn).Where("subject = ?", subject).
		Order("account ASC").
		Find(&holdings)
	if result.Error != nil {
		return nil, result.Error
	}
	return holdings, nil
}

// DeleteShareholdings removes the full ownership registry for a subject
func (d *Database) DeleteShareholdings(subject uint64, txn *gorm.DB) error {
	if result := d.conn(txn).Where("subject = ?", subject).
		Delete(&models.Shareholding{}); result.Error != nil {
		return fmt.Errorf("delete shareholdings: %w", result.Error)
	}
	return nil
}

// GetBalance returns an account's free balance row for an asset, or nil
func (d *Database) GetBalance(
	asset uint64,
	account string,
	txn *gorm.DB,
) (*models.Balance, error) {
	var balance models.Balance
	result := d.conn(txn).
		Where("asset = ? AND account = ?", asset, account).
		First(&balance)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &balance, nil
}

// SetBalance inserts or updates a balance row
func (d *Database) SetBalance(balance *models.Balance, txn *gorm.DB) error {
	if result := d.conn(txn).Save(balance); result.Error != nil {
		return fmt.Errorf("set balance: %w", result.Error)
	}
	return nil
}

// GetHold returns a named hold, or nil
func (d *Database) GetHold(
	asset uint64,
	account string,
	reason string,
	txn *gorm.DB,
) (*models.Hold, error) {
	var hold models.Hold
	result := d.conn(txn).
		Where(
			"asset = ? AND account = ? AND reason = ?",
			asset,
			account,
			reason,
		).
		First(&hold)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &hold, nil
}

// SetHold inserts or updates a hold row
func (d *Database) SetHold(hold *models.Hold, txn *gorm.DB) error {
	if result := d.conn(txn).Save(hold); result.Error != nil {
		return fmt.Errorf("set hold: %w", result.Error)
	}
	return nil
}

// DeleteHold removes a hold row
func (d *Database) DeleteHold(hold *models.Hold, txn *gorm.DB) error {
	if result := d.conn(txn).Delete(hold); result.Error != nil {
		return fmt.Errorf("delete hold: %w", result.Error)
	}
	return nil
}

// HasRole returns whether an account carries a role
func (d *Database) HasRole(
	account string,
	role string,
	txn *gorm.DB,
) (bool, error) {
	var count int64
	result := d.conn(txn).Model(&models.Role{}).
		Where("account = ? AND role = ?", account, role).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// AddRole grants a role to an account
func (d *Database) AddRole(role *models.Role, txn *gorm.DB) error {
	if result := d.conn(txn).Create(role); result.Error != nil {
		return fmt.Errorf("add role: %w", result.Error)
	}
	return nil
}

// AdjustLawyerCases adjusts a lawyer's open case count by delta (which may
// be negative)
func (d *Database) AdjustLawyerCases(
	account string,
	delta int64,
	txn *gorm.DB,
) error {
	conn := d.conn(txn)
	var role models.Role
	result := conn.Where("account = ? AND role = ?", account, "lawyer").
		First(&role)
	if result.Error != nil {
		return fmt.Errorf("adjust lawyer cases: %w", result.Error)
	}
	if delta < 0 && role.Cases < uint64(-delta) {
		role.Cases = 0
	} else {
		role.Cases = uint64(int64(role.Cases) + delta)
	}
	if result := conn.Save(&role); result.Error != nil {
		return fmt.Errorf("adjust lawyer cases: %w", result.Error)
	}
	return nil
}

// AddStrike increments the strike count against an operator, creating the
// row on first strike
func (d *Database) AddStrike(operator string, txn *gorm.DB) error {
	conn := d.conn(txn)
	var strike models.Strike
	result := conn.Where("operator = ?", operator).First(&strike)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		strike = models.Strike{Operator: operator, Count: 1}
		if result := conn.Create(&strike); result.Error != nil {
			return fmt.Errorf("add strike: %w", result.Error)
		}
		return nil
	}
	strike.Count++
	if result := conn.Save(&strike); result.Error != nil {
		return fmt.Errorf("add strike: %w", result.Error)
	}
	return nil
}

// GetStrikes returns the strike count against an operator
func (d *Database) GetStrikes(
	operator string,
	txn *gorm.DB,
) (uint64, error) {
	var strike models.Strike
	result := d.conn(txn).Where("operator = ?", operator).First(&strike)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return strike.Count, nil
}
