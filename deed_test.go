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

package deed_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/deed"
	"github.com/blinklabs-io/deed/conveyance"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	payAsset  = uint64(1337)
	bondAsset = uint64(1984)
)

func setupTestEngine(t *testing.T) *deed.Engine {
	t.Helper()
	engine, err := deed.New(deed.NewConfig(
		deed.WithDataDir(t.TempDir()),
	))
	require.NoError(t, err)
	t.Cleanup(func() {
		engine.Stop()
	})
	return engine
}

func advanceTo(t *testing.T, e *deed.Engine, tick uint64) {
	t.Helper()
	for e.CurrentTick() < tick {
		require.NoError(t, e.AdvanceTick())
	}
}

func balance(t *testing.T, e *deed.Engine, asset uint64, account string) uint64 {
	t.Helper()
	amount, err := e.Balance(asset, account)
	require.NoError(t, err)
	return amount
}

func TestRegisterSubject(t *testing.T) {
	e := setupTestEngine(t)
	require.NoError(t, e.RegisterSubject(9, "region:9", "reserve:9",
		map[string]uint64{"A": 60, "B": 40}))
	err := e.RegisterSubject(9, "region:9", "reserve:9",
		map[string]uint64{"A": 1})
	assert.ErrorIs(t, err, deed.ErrSubjectExists)
}

func TestTickStateSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	engine, err := deed.New(deed.NewConfig(
		deed.WithDataDir(dataDir),
		deed.WithArchiveDisabled(true),
	))
	require.NoError(t, err)
	require.NoError(t, engine.AdvanceTick())
	require.NoError(t, engine.AdvanceTick())
	require.NoError(t, engine.Stop())

	engine, err = deed.New(deed.NewConfig(
		deed.WithDataDir(dataDir),
		deed.WithArchiveDisabled(true),
	))
	require.NoError(t, err)
	defer engine.Stop()
	assert.Equal(t, uint64(2), engine.CurrentTick())
}

// TestFullSaleLifecycle walks a subject from registration through a
// passing sale vote, a contested auction, legal confirmation,
// finalization, and the pro-rata claims that retire it.
func TestFullSaleLifecycle(t *testing.T) {
	e := setupTestEngine(t)

	require.NoError(t, e.RegisterSubject(9, "region:9", "reserve:9",
		map[string]uint64{"A": 60, "B": 40}))
	for _, investor := range []string{"X", "Y"} {
		require.NoError(t, e.GrantRole(investor, ledger.RoleInvestor))
	}
	for _, lawyer := range []string{"lexS", "lexB"} {
		require.NoError(t, e.GrantRole(lawyer, ledger.RoleLawyer))
	}
	require.NoError(t, e.Deposit(bondAsset, "X", 30_000))
	require.NoError(t, e.Deposit(bondAsset, "Y", 60_000))
	// The buyer-side lawyer funds the settlement at finalization
	require.NoError(t, e.Deposit(payAsset, "lexB", 540_000))

	// Sale proposal at 300000 sits in the top turnout tier (9/10)
	roundId, err := e.ProposeSale(9, "A", 300_000, 5)
	require.NoError(t, err)
	require.NoError(t, e.CastVote(roundId, "A", models.ChoiceYes, 60))
	require.NoError(t, e.CastVote(roundId, "B", models.ChoiceYes, 40))

	// Round resolves at tick 5 and opens an auction closing at tick 15
	advanceTo(t, e, 5)
	auction, err := e.Database().GetAuction(9, nil)
	require.NoError(t, err)
	require.NotNil(t, auction)
	assert.Equal(t, uint64(300_000), auction.ReservePrice)
	assert.Equal(t, uint64(15), auction.ExpiryTick)

	// X opens at the reserve, Y outbids
	require.NoError(t, e.Bid(9, "X", 300_000, bondAsset))
	require.NoError(t, e.Bid(9, "Y", 600_000, bondAsset))
	// X's bond came back
	assert.Equal(t, uint64(30_000), balance(t, e, bondAsset, "X"))

	advanceTo(t, e, 15)
	sale, err := e.Database().GetSaleRecord(9, nil)
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, "Y", sale.Buyer)
	assert.Equal(t, uint64(600_000), sale.Price)
	assert.Equal(t, uint64(60_000), sale.BondAmount)

	// Legal confirmation
	require.NoError(t, e.ClaimSide(9, "lexS", conveyance.SideSeller, 1000))
	require.NoError(t, e.ClaimSide(9, "lexB", conveyance.SideBuyer, 1000))
	require.NoError(t, e.Confirm(9, "lexS", true))
	require.NoError(t, e.Confirm(9, "lexB", true))

	// Settlement: lexB pays the 528000 remainder plus the fee out of
	// their own funds. Fee 12000 = 1000 + 1000 lawyer costs + 5000
	// region + 5000 treasury, net proceeds 588000.
	require.NoError(t, e.Finalize(9, "lexB", payAsset))
	assert.Equal(t, uint64(5000), balance(t, e, payAsset, "region:9"))
	assert.Equal(t, uint64(5000), balance(t, e, payAsset, deed.DefaultTreasuryAccount))
	assert.Equal(t, uint64(1000), balance(t, e, payAsset, "lexS"))
	assert.Equal(t, uint64(1000), balance(t, e, payAsset, "lexB"))
	assert.Equal(t, uint64(0), balance(t, e, payAsset, "Y"))
	assert.Equal(t, uint64(0), balance(t, e, bondAsset, "Y"))

	// Pro-rata claims: A takes 60%, B takes the remainder across pools
	require.NoError(t, e.Claim(9, "A", payAsset))
	assert.Equal(t, uint64(352_800), balance(t, e, payAsset, "A"))
	require.NoError(t, e.Claim(9, "B", payAsset))
	assert.Equal(t, uint64(175_200), balance(t, e, payAsset, "B"))
	assert.Equal(t, uint64(60_000), balance(t, e, bondAsset, "B"))

	// Everything about the subject is gone
	subject, err := e.Database().GetSubject(9, nil)
	require.NoError(t, err)
	assert.Nil(t, subject)
	sale, err = e.Database().GetSaleRecord(9, nil)
	require.NoError(t, err)
	assert.Nil(t, sale)
	assert.Equal(t, uint64(0), balance(t, e, payAsset, ledger.EscrowAccount(9)))
	assert.Equal(t, uint64(0), balance(t, e, bondAsset, ledger.EscrowAccount(9)))

	// The audit archive saw the whole story. Records are written from bus
	// subscriptions, so give them a moment to land.
	require.Eventually(t, func() bool {
		n, err := e.Archive().Len()
		return err == nil && n >= 16
	}, 5*time.Second, 10*time.Millisecond)
	records, err := e.Archive().Records(1, ^uint64(0))
	require.NoError(t, err)
	types := make(map[string]int)
	for _, record := range records {
		types[record.Type]++
	}
	assert.Equal(t, 1, types["deed.subject_registered"])
	assert.Equal(t, 1, types["governance.round_passed"])
	assert.Equal(t, 2, types["auction.bid_placed"])
	assert.Equal(t, 1, types["conveyance.sale_approved"])
	assert.Equal(t, 1, types["settlement.sale_finalized"])
	assert.Equal(t, 2, types["settlement.proceeds_claimed"])
	assert.Equal(t, 1, types["settlement.subject_retired"])
}

func TestAdvanceTickFailureKeepsClockAndBucket(t *testing.T) {
	dataDir := t.TempDir()
	engine, err := deed.New(deed.NewConfig(
		deed.WithDataDir(dataDir),
		deed.WithArchiveDisabled(true),
	))
	require.NoError(t, err)
	require.NoError(t, engine.RegisterSubject(1, "region", "reserve",
		map[string]uint64{"A": 100}))
	require.NoError(t, engine.OpenAuction(1, 50_000, 2))
	require.NoError(t, engine.AdvanceTick())

	// Force the next advance's transaction to fail
	require.NoError(t, engine.Database().Close())
	require.Error(t, engine.AdvanceTick())
	assert.Equal(t, uint64(1), engine.CurrentTick())
	_ = engine.Stop()

	// The clock did not move past the failed tick, so the retried tick
	// still sees the auction expiry scheduled for it
	engine, err = deed.New(deed.NewConfig(
		deed.WithDataDir(dataDir),
		deed.WithArchiveDisabled(true),
	))
	require.NoError(t, err)
	defer engine.Stop()
	assert.Equal(t, uint64(1), engine.CurrentTick())
	require.NoError(t, engine.AdvanceTick())
	auction, err := engine.Database().GetAuction(1, nil)
	require.NoError(t, err)
	assert.Nil(t, auction)
}

func TestAbortedSaleAllowsNewProposal(t *testing.T) {
	e := setupTestEngine(t)
	require.NoError(t, e.RegisterSubject(1, "region", "reserve",
		map[string]uint64{"A": 100}))
	require.NoError(t, e.GrantRole("X", ledger.RoleInvestor))
	for _, lawyer := range []string{"lexS", "lexB"} {
		require.NoError(t, e.GrantRole(lawyer, ledger.RoleLawyer))
	}
	require.NoError(t, e.Deposit(bondAsset, "X", 10_000))

	require.NoError(t, e.OpenAuction(1, 50_000, 3))
	require.NoError(t, e.Bid(1, "X", 50_000, bondAsset))
	advanceTo(t, e, 3)

	require.NoError(t, e.ClaimSide(1, "lexS", conveyance.SideSeller, 0))
	require.NoError(t, e.ClaimSide(1, "lexB", conveyance.SideBuyer, 0))
	require.NoError(t, e.Confirm(1, "lexS", false))
	require.NoError(t, e.Confirm(1, "lexB", false))

	// The bond returned and the subject is free for a new sale round
	assert.Equal(t, uint64(10_000), balance(t, e, bondAsset, "X"))
	_, err := e.ProposeSale(1, "A", 50_000, 5)
	assert.NoError(t, err)
}
