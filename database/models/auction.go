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

// Auction represents an open ascending-price auction over a subject.
// An empty Bidder means no bid has been placed yet; BondAsset/BondAmount
// track the single bond held for the current highest bidder.
type Auction struct {
	ID           uint64 `gorm:"primarykey"`
	Subject      uint64 `gorm:"uniqueIndex;not null"`
	ReservePrice uint64 `gorm:"not null"`
	Price        uint64 `gorm:"not null"`
	Bidder       string `gorm:"size:64"`
	BondAsset    uint64
	BondAmount   uint64
	ExpiryTick   uint64 `gorm:"index;not null"`
}

// TableName returns the table name
func (Auction) TableName() string {
	return "auction"
}
