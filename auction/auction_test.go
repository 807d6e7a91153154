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

package auction_test

import (
	"testing"

	"github.com/blinklabs-io/deed/auction"
	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/ledger"
	"github.com/blinklabs-io/deed/tick"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testAsset = uint64(1337)

type testHarness struct {
	db        *database.Database
	ledger    *ledger.Ledger
	scheduler *tick.Scheduler
	auctions  *auction.AuctionEngine
}

func setupTestAuction(t *testing.T) *testHarness {
	t.Helper()
	db, err := database.New(nil, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	l := ledger.NewLedger(ledger.LedgerConfig{Database: db})
	s := tick.NewScheduler(tick.SchedulerConfig{Database: db})
	a := auction.NewAuctionEngine(auction.AuctionConfig{
		Database:  db,
		Ledger:    l,
		Scheduler: s,
	})
	require.NoError(t, db.AddSubject(&models.Subject{
		ID:          1,
		TotalShares: 100,
	}, nil))
	return &testHarness{db: db, ledger: l, scheduler: s, auctions: a}
}

func (h *testHarness) addInvestor(t *testing.T, account string, funds uint64) {
	t.Helper()
	err := h.db.Transaction(func(txn *gorm.DB) error {
		if err := h.ledger.GrantRole(txn, account, ledger.RoleInvestor); err != nil {
			return err
		}
		return h.ledger.Credit(txn, testAsset, account, funds)
	})
	require.NoError(t, err)
}

func TestOpenGuards(t *testing.T) {
	h := setupTestAuction(t)
	require.NoError(t, h.auctions.Open(1, 1000, 10))
	err := h.auctions.Open(1, 1000, 10)
	assert.ErrorIs(t, err, auction.ErrAuctionOngoing)
}

func TestBidValidation(t *testing.T) {
	h := setupTestAuction(t)
	h.addInvestor(t, "x", 1_000_000)
	require.NoError(t, h.auctions.Open(1, 1000, 10))

	// Role is required
	err := h.auctions.Bid(1, "mallory", 1000, testAsset, 0)
	assert.ErrorIs(t, err, ledger.ErrMissingRole)

	// No auction for this subject
	err = h.auctions.Bid(2, "x", 1000, testAsset, 0)
	var noAuction *auction.NoOngoingAuctionError
	assert.ErrorAs(t, err, &noAuction)

	// Expired auction refuses bids
	err = h.auctions.Bid(1, "x", 1000, testAsset, 10)
	assert.ErrorAs(t, err, &noAuction)

	// Opening bid must meet the reserve
	err = h.auctions.Bid(1, "x", 999, testAsset, 0)
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, uint64(1000), tooLow.Required)
	require.NoError(t, h.auctions.Bid(1, "x", 1000, testAsset, 0))

	// Later bids must strictly exceed the current price
	err = h.auctions.Bid(1, "x", 1000, testAsset, 1)
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, uint64(1001), tooLow.Required)
}

func TestOutbidSwapsBond(t *testing.T) {
	h := setupTestAuction(t)
	h.addInvestor(t, "x", 10_000)
	h.addInvestor(t, "y", 10_000)
	require.NoError(t, h.auctions.Open(1, 1000, 10))

	require.NoError(t, h.auctions.Bid(1, "x", 1000, testAsset, 0))
	held, err := h.ledger.HeldAmount(nil, testAsset, "x", auction.BondReason(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), held)

	require.NoError(t, h.auctions.Bid(1, "y", 2000, testAsset, 1))

	// X got their bond back, Y's bond is held
	held, err = h.ledger.HeldAmount(nil, testAsset, "x", auction.BondReason(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), held)
	balance, err := h.ledger.Balance(nil, testAsset, "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), balance)
	held, err = h.ledger.HeldAmount(nil, testAsset, "y", auction.BondReason(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), held)
}

func TestSelfRaiseHoldsIncrementOnly(t *testing.T) {
	h := setupTestAuction(t)
	// Enough for the final bond but nowhere near two full bonds
	h.addInvestor(t, "x", 250)
	require.NoError(t, h.auctions.Open(1, 1000, 10))

	require.NoError(t, h.auctions.Bid(1, "x", 1000, testAsset, 0))
	require.NoError(t, h.auctions.Bid(1, "x", 2000, testAsset, 1))

	held, err := h.ledger.HeldAmount(nil, testAsset, "x", auction.BondReason(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), held)
	balance, err := h.ledger.Balance(nil, testAsset, "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), balance)
}

func TestInsufficientBondRollsBackBid(t *testing.T) {
	h := setupTestAuction(t)
	h.addInvestor(t, "x", 10_000)
	h.addInvestor(t, "y", 50)
	require.NoError(t, h.auctions.Open(1, 1000, 10))
	require.NoError(t, h.auctions.Bid(1, "x", 1000, testAsset, 0))

	// Y can't fund the bond; X must remain the bidder with their bond held
	err := h.auctions.Bid(1, "y", 2000, testAsset, 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	held, err := h.ledger.HeldAmount(nil, testAsset, "x", auction.BondReason(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), held)
	a, err := h.db.GetAuction(1, nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "x", a.Bidder)
	assert.Equal(t, uint64(1000), a.Price)
}

func TestExpiryWithBidCreatesSale(t *testing.T) {
	h := setupTestAuction(t)
	h.addInvestor(t, "x", 10_000)
	require.NoError(t, h.auctions.Open(1, 1000, 10))
	require.NoError(t, h.auctions.Bid(1, "x", 1500, testAsset, 0))

	require.NoError(t, h.scheduler.OnTick(10))

	a, err := h.db.GetAuction(1, nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	sale, err := h.db.GetSaleRecord(1, nil)
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, uint8(models.SaleStateAwaitingClaims), sale.State)
	assert.Equal(t, "x", sale.Buyer)
	assert.Equal(t, uint64(1500), sale.Price)
	assert.Equal(t, testAsset, sale.BondAsset)
	assert.Equal(t, uint64(150), sale.BondAmount)
	assert.Equal(t, uint64(100), sale.TotalShares)
	assert.Equal(t, uint64(100), sale.RemainingShares)

	// The bond stays held for settlement
	held, err := h.ledger.HeldAmount(nil, testAsset, "x", auction.BondReason(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(150), held)
}

func TestExpiryWithoutBidDiscards(t *testing.T) {
	h := setupTestAuction(t)
	require.NoError(t, h.auctions.Open(1, 1000, 10))
	require.NoError(t, h.scheduler.OnTick(10))

	a, err := h.db.GetAuction(1, nil)
	require.NoError(t, err)
	assert.Nil(t, a)
	sale, err := h.db.GetSaleRecord(1, nil)
	require.NoError(t, err)
	assert.Nil(t, sale)
}
