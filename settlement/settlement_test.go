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

package settlement_test

import (
	"fmt"
	"testing"

	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/internal/smath"
	"github.com/blinklabs-io/deed/ledger"
	"github.com/blinklabs-io/deed/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	payAsset  = uint64(1337)
	bondAsset = uint64(1984)
)

func bondReason(subject uint64) string {
	return fmt.Sprintf("bid:%d", subject)
}

type testHarness struct {
	db     *database.Database
	ledger *ledger.Ledger
	settle *settlement.Settlement
}

// setupApprovedSale builds the post-confirmation state for subject 1:
// price 600000, bond 60000 held in a different asset, lawyer costs
// 1000 each, owners alice 60 / bob 40. The buyer-side lawyer lexB is
// funded with the 540000 they owe at finalization.
func setupApprovedSale(t *testing.T) *testHarness {
	t.Helper()
	db, err := database.New(nil, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	l := ledger.NewLedger(ledger.LedgerConfig{Database: db})
	s := settlement.NewSettlement(settlement.SettlementConfig{
		Database:        db,
		Ledger:          l,
		TreasuryAccount: "treasury",
		BondReason:      bondReason,
	})
	require.NoError(t, db.AddSubject(&models.Subject{
		ID:            1,
		RegionAccount: "region",
		TotalShares:   100,
	}, nil))
	err = db.Transaction(func(txn *gorm.DB) error {
		if err := l.MintShares(txn, 1, "alice", 60); err != nil {
			return err
		}
		if err := l.MintShares(txn, 1, "bob", 40); err != nil {
			return err
		}
		for _, lawyer := range []string{"lexS", "lexB"} {
			if err := l.GrantRole(txn, lawyer, ledger.RoleLawyer); err != nil {
				return err
			}
			if err := l.AdjustLawyerCases(txn, lawyer, 1); err != nil {
				return err
			}
		}
		if err := l.Credit(txn, bondAsset, "buyer", 60_000); err != nil {
			return err
		}
		if err := l.HoldFunds(txn, bondAsset, "buyer", bondReason(1), 60_000); err != nil {
			return err
		}
		return l.Credit(txn, payAsset, "lexB", 540_000)
	})
	require.NoError(t, err)
	require.NoError(t, db.AddSaleRecord(&models.SaleRecord{
		Subject:         1,
		State:           models.SaleStateApproved,
		Buyer:           "buyer",
		Price:           600_000,
		BondAsset:       bondAsset,
		BondAmount:      60_000,
		SellerLawyer:    "lexS",
		BuyerLawyer:     "lexB",
		SellerStatus:    models.SideStatusApproved,
		BuyerStatus:     models.SideStatusApproved,
		SellerCost:      1000,
		BuyerCost:       1000,
		TotalShares:     100,
		RemainingShares: 100,
	}, nil))
	return &testHarness{db: db, ledger: l, settle: s}
}

func (h *testHarness) balance(t *testing.T, asset uint64, account string) uint64 {
	t.Helper()
	balance, err := h.ledger.Balance(nil, asset, account)
	require.NoError(t, err)
	return balance
}

func TestFinalizeGuards(t *testing.T) {
	h := setupApprovedSale(t)
	err := h.settle.Finalize(2, "lexB", payAsset)
	assert.ErrorIs(t, err, settlement.ErrNoPendingSale)
	err = h.settle.Finalize(1, "lexS", payAsset)
	assert.ErrorIs(t, err, settlement.ErrNotBuyerLawyer)

	require.NoError(t, h.settle.Finalize(1, "lexB", payAsset))
	err = h.settle.Finalize(1, "lexB", payAsset)
	assert.ErrorIs(t, err, settlement.ErrWrongSaleState)
}

func TestFinalizeDistribution(t *testing.T) {
	h := setupApprovedSale(t)
	// The buyer's own balance plays no part in finalization
	err := h.db.Transaction(func(txn *gorm.DB) error {
		return h.ledger.Credit(txn, payAsset, "buyer", 25_000)
	})
	require.NoError(t, err)
	require.NoError(t, h.settle.Finalize(1, "lexB", payAsset))

	// Fee is 12000: 1000 to each lawyer, the 10000 residual split
	// between region and treasury
	assert.Equal(t, uint64(1000), h.balance(t, payAsset, "lexS"))
	assert.Equal(t, uint64(5000), h.balance(t, payAsset, "region"))
	assert.Equal(t, uint64(5000), h.balance(t, payAsset, "treasury"))

	// The caller covered the 528000 remainder plus the fee components
	// from their own funds, getting their 1000 cost back: 540000 in,
	// 539000 out. The buyer only lost the already-held bond.
	assert.Equal(t, uint64(1000), h.balance(t, payAsset, "lexB"))
	assert.Equal(t, uint64(25_000), h.balance(t, payAsset, "buyer"))
	assert.Equal(t, uint64(0), h.balance(t, bondAsset, "buyer"))

	// Escrow mirrors the fund pools: 528000 payment + 60000 bond = 588000 net
	escrow := ledger.EscrowAccount(1)
	assert.Equal(t, uint64(528_000), h.balance(t, payAsset, escrow))
	assert.Equal(t, uint64(60_000), h.balance(t, bondAsset, escrow))
	pools, err := h.db.GetFundPools(1, nil)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, payAsset, pools[0].Asset)
	assert.Equal(t, uint64(528_000), pools[0].Amount)
	assert.Equal(t, bondAsset, pools[1].Asset)
	assert.Equal(t, uint64(60_000), pools[1].Amount)

	sale, err := h.db.GetSaleRecord(1, nil)
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, uint8(models.SaleStateFinalized), sale.State)
	assert.Equal(t, uint64(588_000), sale.NetProceeds)

	// Both lawyers' case counts dropped
	var role models.Role
	result := h.db.DB().Where("account = ?", "lexS").First(&role)
	require.NoError(t, result.Error)
	assert.Equal(t, uint64(0), role.Cases)
}

func TestFinalizeRollsBackWhenCallerShort(t *testing.T) {
	h := setupApprovedSale(t)
	// Drain most of the caller's payment balance
	err := h.db.Transaction(func(txn *gorm.DB) error {
		return h.ledger.Debit(txn, payAsset, "lexB", 500_000)
	})
	require.NoError(t, err)

	err = h.settle.Finalize(1, "lexB", payAsset)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// Nothing moved: the sale is still Approved, the bond still held
	sale, err := h.db.GetSaleRecord(1, nil)
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, uint8(models.SaleStateApproved), sale.State)
	held, err := h.ledger.HeldAmount(nil, bondAsset, "buyer", bondReason(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(60_000), held)
	assert.Equal(t, uint64(0), h.balance(t, payAsset, "region"))
}

func TestClaimProRata(t *testing.T) {
	h := setupApprovedSale(t)
	require.NoError(t, h.settle.Finalize(1, "lexB", payAsset))

	err := h.settle.Claim(1, "mallory", payAsset)
	assert.ErrorIs(t, err, settlement.ErrNoShares)

	// Alice holds 60 of 100: 588000 * 60 / 100 = 352800, drained from the
	// preferred payment-asset pool first
	require.NoError(t, h.settle.Claim(1, "alice", payAsset))
	assert.Equal(t, uint64(352_800), h.balance(t, payAsset, "alice"))
	assert.Equal(t, uint64(0), h.balance(t, bondAsset, "alice"))

	power, err := h.ledger.VotingPower(nil, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), power)

	// Bob is the last claimant and takes what remains across both pools
	require.NoError(t, h.settle.Claim(1, "bob", payAsset))
	assert.Equal(t, uint64(175_200), h.balance(t, payAsset, "bob"))
	assert.Equal(t, uint64(60_000), h.balance(t, bondAsset, "bob"))

	// Escrow fully drained, subject retired
	escrow := ledger.EscrowAccount(1)
	assert.Equal(t, uint64(0), h.balance(t, payAsset, escrow))
	assert.Equal(t, uint64(0), h.balance(t, bondAsset, escrow))
	sale, err := h.db.GetSaleRecord(1, nil)
	require.NoError(t, err)
	assert.Nil(t, sale)
	pools, err := h.db.GetFundPools(1, nil)
	require.NoError(t, err)
	assert.Empty(t, pools)
	subject, err := h.db.GetSubject(1, nil)
	require.NoError(t, err)
	assert.Nil(t, subject)
}

func TestClaimRequiresFinalized(t *testing.T) {
	h := setupApprovedSale(t)
	err := h.settle.Claim(1, "alice", payAsset)
	assert.ErrorIs(t, err, settlement.ErrWrongSaleState)
}

func TestClaimPreferredAssetDrainsFirst(t *testing.T) {
	h := setupApprovedSale(t)
	require.NoError(t, h.settle.Finalize(1, "lexB", payAsset))

	// Preferring the bond asset drains its 60000 pool before touching the
	// payment pool
	require.NoError(t, h.settle.Claim(1, "alice", bondAsset))
	assert.Equal(t, uint64(60_000), h.balance(t, bondAsset, "alice"))
	assert.Equal(t, uint64(292_800), h.balance(t, payAsset, "alice"))
}

func TestFinalizeRejectsCostsExceedingFee(t *testing.T) {
	h := setupApprovedSale(t)
	sale, err := h.db.GetSaleRecord(1, nil)
	require.NoError(t, err)
	require.NotNil(t, sale)
	// A cost above the fee can only come from a corrupted record; it must
	// fail cleanly instead of wrapping around
	sale.SellerCost = 50_000
	require.NoError(t, h.db.UpdateSaleRecord(sale, nil))

	err = h.settle.Finalize(1, "lexB", payAsset)
	assert.ErrorIs(t, err, smath.ErrUnderflow)
}

func TestClaimBlockedByOpenVote(t *testing.T) {
	h := setupApprovedSale(t)
	require.NoError(t, h.settle.Finalize(1, "lexB", payAsset))

	round := &models.Round{
		Subject:    1,
		Kind:       models.RoundKindMaintenance,
		ExpiryTick: 99,
	}
	require.NoError(t, h.db.AddRound(round, nil))
	require.NoError(t, h.db.SetVoteRecord(&models.VoteRecord{
		RoundID: round.ID,
		Subject: 1,
		Voter:   "alice",
		Choice:  models.ChoiceYes,
		Power:   10,
	}, nil))

	err := h.settle.Claim(1, "alice", payAsset)
	assert.ErrorIs(t, err, settlement.ErrVotesOutstanding)

	// Once the round resolves the claim goes through
	require.NoError(t, h.db.DeleteRound(round.ID, nil))
	require.NoError(t, h.settle.Claim(1, "alice", payAsset))
	assert.Equal(t, uint64(352_800), h.balance(t, payAsset, "alice"))
}

func TestRetirementDropsOpenRounds(t *testing.T) {
	h := setupApprovedSale(t)
	require.NoError(t, h.settle.Finalize(1, "lexB", payAsset))

	// A voteless maintenance round is still open when the last claim lands
	round := &models.Round{
		Subject:    1,
		Kind:       models.RoundKindMaintenance,
		ExpiryTick: 7,
	}
	require.NoError(t, h.db.AddRound(round, nil))
	require.NoError(t, h.db.AddScheduleEntry(&models.ScheduleEntry{
		Tick:  7,
		Kind:  models.ScheduleKindRound,
		RefID: round.ID,
	}, nil))

	require.NoError(t, h.settle.Claim(1, "alice", payAsset))
	require.NoError(t, h.settle.Claim(1, "bob", payAsset))

	fetched, err := h.db.GetRound(round.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, fetched)
	count, err := h.db.CountScheduleEntries(7, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
