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

// SaleState constants represent the legal-confirmation automaton state for
// a sale record. The bounded retry is a state of its own rather than a flag:
// from AwaitingFirst a split outcome moves to AwaitingRetry, and a second
// split aborts. Aborted sales are deleted rather than stored.
const (
	SaleStateAwaitingClaims = 0 // lawyer slots not yet both claimed
	SaleStateAwaitingFirst  = 1 // first confirmation pass
	SaleStateAwaitingRetry  = 2 // second (final) confirmation pass
	SaleStateApproved       = 3
	SaleStateFinalized      = 4
)

// SideStatus constants represent one representative's confirmation status.
const (
	SideStatusPending  = 0
	SideStatusApproved = 1
	SideStatusRejected = 2
)

// SaleRecord represents a concluded auction awaiting legal confirmation,
// settlement, and pro-rata distribution. RemainingShares decreases as
// owners claim proceeds; the record is deleted when it reaches zero.
type SaleRecord struct {
	ID              uint64 `gorm:"primarykey"`
	Subject         uint64 `gorm:"uniqueIndex;not null"`
	State           uint8  `gorm:"not null"`
	Buyer           string `gorm:"size:64;not null"`
	Price           uint64 `gorm:"not null"`
	BondAsset       uint64 `gorm:"not null"`
	BondAmount      uint64 `gorm:"not null"`
	SellerLawyer    string `gorm:"size:64"`
	BuyerLawyer     string `gorm:"size:64"`
	SellerStatus    uint8  `gorm:"not null"`
	BuyerStatus     uint8  `gorm:"not null"`
	SellerCost      uint64 `gorm:"not null"`
	BuyerCost       uint64 `gorm:"not null"`
	NetProceeds     uint64 `gorm:"not null"` // set at finalize
	TotalShares     uint64 `gorm:"not null"`
	RemainingShares uint64 `gorm:"not null"`
}

// TableName returns the table name
func (SaleRecord) TableName() string {
	return "sale_record"
}

// FundPool represents a subject's accumulated proceeds in one payment
// asset, awaiting pro-rata claims. Rows are deleted as they drain to zero.
type FundPool struct {
	ID      uint64 `gorm:"primarykey"`
	Subject uint64 `gorm:"uniqueIndex:idx_pool_unique,priority:1;not null"`
	Asset   uint64 `gorm:"uniqueIndex:idx_pool_unique,priority:2;not null"`
	Amount  uint64 `gorm:"not null"`
}

// TableName returns the table name
func (FundPool) TableName() string {
	return "fund_pool"
}
