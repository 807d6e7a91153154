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

// RoundKind constants represent the kind of weighted-voting round.
const (
	RoundKindSale        = 0 // sale proposal; passing opens an auction
	RoundKindMaintenance = 1 // maintenance proposal; passing transfers reserve funds
	RoundKindChallenge   = 2 // operator challenge; passing applies a strike
)

// Choice constants represent the vote choice on a round.
const (
	ChoiceNo  = 0
	ChoiceYes = 1
)

// Round represents a time-boxed weighted-voting process over a subject.
// At most one round per (subject, kind) is open at a time.
type Round struct {
	ID          uint64 `gorm:"primarykey"`
	Subject     uint64 `gorm:"index:idx_round_subject,priority:1;uniqueIndex:idx_round_open,priority:1;not null"`
	Kind        uint8  `gorm:"uniqueIndex:idx_round_open,priority:2;not null"` // 0=sale, 1=maintenance, 2=challenge
	Proposer    string `gorm:"size:64;not null"`
	Amount      uint64 `gorm:"not null"` // reserve price (sale) or requested amount (maintenance)
	Asset       uint64 `gorm:"not null"` // payment asset for maintenance payouts
	Beneficiary string `gorm:"size:64"`  // maintenance payout destination
	Operator    string `gorm:"size:64"`  // challenged operator
	CreatedTick uint64 `gorm:"not null"`
	ExpiryTick  uint64 `gorm:"index;not null"`
}

// TableName returns the table name
func (Round) TableName() string {
	return "round"
}

// VoteTally holds the accumulated yes/no voting power for an open round.
// It is created with the round and destroyed at resolution.
type VoteTally struct {
	ID       uint64 `gorm:"primarykey"`
	RoundID  uint64 `gorm:"uniqueIndex;not null"`
	YesPower uint64 `gorm:"not null"`
	NoPower  uint64 `gorm:"not null"`
}

// TableName returns the table name
func (VoteTally) TableName() string {
	return "vote_tally"
}

// VoteRecord represents a voter's latest vote on a round. Its existence
// implies an active stake hold of Power against the voter's shareholding
// in the round's subject.
type VoteRecord struct {
	ID      uint64 `gorm:"primarykey"`
	RoundID uint64 `gorm:"index:idx_vote_round;uniqueIndex:idx_vote_unique,priority:1;not null"`
	Subject uint64 `gorm:"index:idx_vote_subject,priority:1;not null"`
	Voter   string `gorm:"index:idx_vote_subject,priority:2;uniqueIndex:idx_vote_unique,priority:2;size:64;not null"`
	Choice  uint8  `gorm:"not null"` // 0=No, 1=Yes
	Power   uint64 `gorm:"not null"`
}

// TableName returns the table name
func (VoteRecord) TableName() string {
	return "vote_record"
}

// ScheduleKind constants represent the kind of deadline tracked by the
// scheduler. Each kind has its own registered resolver.
const (
	ScheduleKindRound   = 0 // RefID is a round ID
	ScheduleKindAuction = 1 // RefID is a subject ID
)

// ScheduleEntry represents one pending deadline in a tick's bucket.
// Entries are dispatched in insertion (ID) order.
type ScheduleEntry struct {
	ID    uint64 `gorm:"primarykey"`
	Tick  uint64 `gorm:"index;not null"`
	Kind  uint8  `gorm:"not null"` // 0=round, 1=auction
	RefID uint64 `gorm:"not null"`
}

// TableName returns the table name
func (ScheduleEntry) TableName() string {
	return "schedule_entry"
}

// TickState persists the engine's logical clock so deadlines survive a
// restart. There is exactly one row.
type TickState struct {
	ID   uint64 `gorm:"primarykey"`
	Tick uint64 `gorm:"not null"`
}

// TableName returns the table name
func (TickState) TableName() string {
	return "tick_state"
}
