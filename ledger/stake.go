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

package ledger

import (
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/internal/smath"
	"gorm.io/gorm"
)

// VotingPower returns an account's ownership tokens in a subject
func (l *Ledger) VotingPower(
	txn *gorm.DB,
	subject uint64,
	account string,
) (uint64, error) {
	holding, err := l.db.GetShareholding(subject, account, txn)
	if err != nil {
		return 0, err
	}
	if holding == nil {
		return 0, nil
	}
	return holding.Amount, nil
}

// TotalSupply returns the outstanding ownership token supply for a subject
func (l *Ledger) TotalSupply(
	txn *gorm.DB,
	subject uint64,
) (uint64, error) {
	subj, err := l.db.GetSubject(subject, txn)
	if err != nil {
		return 0, err
	}
	if subj == nil {
		return 0, ErrUnknownSubject
	}
	return subj.TotalShares, nil
}

// MintShares creates ownership tokens for an account
func (l *Ledger) MintShares(
	txn *gorm.DB,
	subject uint64,
	account string,
	amount uint64,
) error {
	holding, err := l.db.GetShareholding(subject, account, txn)
	if err != nil {
		return err
	}
	if holding == nil {
		holding = &models.Shareholding{Subject: subject, Account: account}
	}
	newAmount, err := smath.Add(holding.Amount, amount)
	if err != nil {
		return err
	}
	holding.Amount = newAmount
	return l.db.SetShareholding(holding, txn)
}

// BurnShares destroys ownership tokens held by an account
func (l *Ledger) BurnShares(
	txn *gorm.DB,
	subject uint64,
	account string,
	amount uint64,
) error {
	holding, err := l.db.GetShareholding(subject, account, txn)
	if err != nil {
		return err
	}
	if holding == nil || holding.Amount < amount {
		return ErrInsufficientStake
	}
	holding.Amount -= amount
	return l.db.SetShareholding(holding, txn)
}
