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

// Package ledger implements the fungible-asset, ownership, and role
// collaborators the engine components depend on. All mutating methods take
// the caller's transaction handle so collaborator effects commit or roll
// back together with the invoking action. Funds are only ever moved, never
// created or destroyed, outside of the explicit Credit and share mint/burn
// entry points.
package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/internal/smath"
	"gorm.io/gorm"
)

const (
	RoleLawyer   = "lawyer"
	RoleInvestor = "investor"
	RoleAgent    = "agent"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrUnknownSubject    = errors.New("unknown subject")
	ErrMissingRole       = errors.New("account lacks required role")
	ErrNoSuchHold        = errors.New("no such hold")
)

// EscrowAccount returns the system account that carries a subject's pooled
// sale proceeds
func EscrowAccount(subject uint64) string {
	return fmt.Sprintf("escrow:%d", subject)
}

type LedgerConfig struct {
	Logger   *slog.Logger
	Database *database.Database
}

// Ledger is the database-backed implementation of the asset, stake, role,
// and strike collaborators.
type Ledger struct {
	logger *slog.Logger
	db     *database.Database
}

func NewLedger(cfg LedgerConfig) *Ledger {
	l := &Ledger{
		logger: cfg.Logger,
		db:     cfg.Database,
	}
	if l.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return l
}

// Credit adds funds to an account's free balance. This is the external
// deposit entry point; everything else is a move.
func (l *Ledger) Credit(
	txn *gorm.DB,
	asset uint64,
	account string,
	amount uint64,
) error {
	balance, err := l.db.GetBalance(asset, account, txn)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = &models.Balance{Asset: asset, Account: account}
	}
	newAmount, err := smath.Add(balance.Amount, amount)
	if err != nil {
		return err
	}
	balance.Amount = newAmount
	return l.db.SetBalance(balance, txn)
}

// Debit removes funds from an account's free balance
func (l *Ledger) Debit(
	txn *gorm.DB,
	asset uint64,
	account string,
	amount uint64,
) error {
	balance, err := l.db.GetBalance(asset, account, txn)
	if err != nil {
		return err
	}
	if balance == nil || balance.Amount < amount {
		return ErrInsufficientFunds
	}
	balance.Amount -= amount
	return l.db.SetBalance(balance, txn)
}

// Transfer moves funds between two accounts' free balances
func (l *Ledger) Transfer(
	txn *gorm.DB,
	asset uint64,
	from string,
	to string,
	amount uint64,
) error {
	if amount == 0 {
		return nil
	}
	if err := l.Debit(txn, asset, from, amount); err != nil {
		return err
	}
	return l.Credit(txn, asset, to, amount)
}

// Balance returns an account's free balance in an asset
func (l *Ledger) Balance(
	txn *gorm.DB,
	asset uint64,
	account string,
) (uint64, error) {
	balance, err := l.db.GetBalance(asset, account, txn)
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Amount, nil
}

// HoldFunds moves funds from an account's free balance into a named hold,
// accumulating on top of any existing hold with the same reason
func (l *Ledger) HoldFunds(
	txn *gorm.DB,
	asset uint64,
	account string,
	reason string,
	amount uint64,
) error {
	if err := l.Debit(txn, asset, account, amount); err != nil {
		return err
	}
	hold, err := l.db.GetHold(asset, account, reason, txn)
	if err != nil {
		return err
	}
	if hold == nil {
		hold = &models.Hold{Asset: asset, Account: account, Reason: reason}
	}
	newAmount, err := smath.Add(hold.Amount, amount)
	if err != nil {
		return err
	}
	hold.Amount = newAmount
	return l.db.SetHold(hold, txn)
}

// HeldAmount returns the amount currently held under a reason
func (l *Ledger) HeldAmount(
	txn *gorm.DB,
	asset uint64,
	account string,
	reason string,
) (uint64, error) {
	hold, err := l.db.GetHold(asset, account, reason, txn)
	if err != nil {
		return 0, err
	}
	if hold == nil {
		return 0, nil
	}
	return hold.Amount, nil
}

// ReleaseHold returns held funds to their owner's free balance and removes
// the hold. Returns the released amount.
func (l *Ledger) ReleaseHold(
	txn *gorm.DB,
	asset uint64,
	account string,
	reason string,
) (uint64, error) {
	return l.settleHold(txn, asset, account, reason, account)
}

// SettleHold moves held funds to a third-party account and removes the
// hold. Returns the settled amount.
func (l *Ledger) SettleHold(
	txn *gorm.DB,
	asset uint64,
	account string,
	reason string,
	to string,
) (uint64, error) {
	return l.settleHold(txn, asset, account, reason, to)
}

func (l *Ledger) settleHold(
	txn *gorm.DB,
	asset uint64,
	account string,
	reason string,
	to string,
) (uint64, error) {
	hold, err := l.db.GetHold(asset, account, reason, txn)
	if err != nil {
		return 0, err
	}
	if hold == nil {
		return 0, ErrNoSuchHold
	}
	amount := hold.Amount
	if err := l.db.DeleteHold(hold, txn); err != nil {
		return 0, err
	}
	if err := l.Credit(txn, asset, to, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// HasRole reports whether an account carries a role
func (l *Ledger) HasRole(
	txn *gorm.DB,
	account string,
	role string,
) (bool, error) {
	return l.db.HasRole(account, role, txn)
}

// RequireRole returns ErrMissingRole when an account lacks a role
func (l *Ledger) RequireRole(
	txn *gorm.DB,
	account string,
	role string,
) error {
	ok, err := l.db.HasRole(account, role, txn)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s needs %s", ErrMissingRole, account, role)
	}
	return nil
}

// GrantRole grants a role to an account
func (l *Ledger) GrantRole(txn *gorm.DB, account string, role string) error {
	return l.db.AddRole(&models.Role{Account: account, Role: role}, txn)
}

// AdjustLawyerCases adjusts a lawyer's open case count
func (l *Ledger) AdjustLawyerCases(
	txn *gorm.DB,
	account string,
	delta int64,
) error {
	return l.db.AdjustLawyerCases(account, delta, txn)
}

// Strike records a successful challenge against an operator
func (l *Ledger) Strike(txn *gorm.DB, operator string) error {
	return l.db.AddStrike(operator, txn)
}
