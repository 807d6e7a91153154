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

package models

// Subject represents a tokenized property under management. TotalShares is
// the outstanding ownership token supply used as the eligible voting weight.
type Subject struct {
	ID             uint64 `gorm:"primarykey;autoIncrement:false"`
	RegionAccount  string `gorm:"size:64;not null"`
	ReserveAccount string `gorm:"size:64;not null"`
	TotalShares    uint64 `gorm:"not null"`
}

// TableName returns the table name
func (Subject) TableName() string {
	return "subject"
}

// Shareholding represents one account's ownership tokens in a subject.
type Shareholding struct {
	ID      uint64 `gorm:"primarykey"`
	Subject uint64 `gorm:"uniqueIndex:idx_share_unique,priority:1;not null"`
	Account string `gorm:"uniqueIndex:idx_share_unique,priority:2;size:64;not null"`
	Amount  uint64 `gorm:"not null"`
}

// TableName returns the table name
func (Shareholding) TableName() string {
	return "shareholding"
}

// Balance represents an account's free balance in a payment asset.
type Balance struct {
	ID      uint64 `gorm:"primarykey"`
	Asset   uint64 `gorm:"uniqueIndex:idx_balance_unique,priority:1;not null"`
	Account string `gorm:"uniqueIndex:idx_balance_unique,priority:2;size:64;not null"`
	Amount  uint64 `gorm:"not null"`
}

// TableName returns the table name
func (Balance) TableName() string {
	return "balance"
}

// Hold represents funds moved out of an account's free balance as a
// performance guarantee. Reason namespaces the hold (e.g. "bid:42") so an
// account can carry independent holds in the same asset.
type Hold struct {
	ID      uint64 `gorm:"primarykey"`
	Asset   uint64 `gorm:"uniqueIndex:idx_hold_unique,priority:1;not null"`
	Account string `gorm:"uniqueIndex:idx_hold_unique,priority:2;size:64;not null"`
	Reason  string `gorm:"uniqueIndex:idx_hold_unique,priority:3;size:64;not null"`
	Amount  uint64 `gorm:"not null"`
}

// TableName returns the table name
func (Hold) TableName() string {
	return "hold"
}

// Role represents a whitelisted capability for an account. Cases counts the
// lawyer's open sale-side engagements.
type Role struct {
	ID      uint64 `gorm:"primarykey"`
	Account string `gorm:"uniqueIndex:idx_role_unique,priority:1;size:64;not null"`
	Role    string `gorm:"uniqueIndex:idx_role_unique,priority:2;size:32;not null"`
	Cases   uint64 `gorm:"not null"`
}

// TableName returns the table name
func (Role) TableName() string {
	return "role"
}

// Strike represents accumulated successful challenges against a regional
// operator.
type Strike struct {
	ID       uint64 `gorm:"primarykey"`
	Operator string `gorm:"uniqueIndex;size:64;not null"`
	Count    uint64 `gorm:"not null"`
}

// TableName returns the table name
func (Strike) TableName() string {
	return "strike"
}
