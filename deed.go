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

// Package deed wires the governance, auction, conveyance, and settlement
// components into one engine over a shared database, ledger, event bus,
// and tick scheduler. Every public action is atomic: it either fully
// happens or leaves no trace.
package deed

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/blinklabs-io/deed/archive"
	"github.com/blinklabs-io/deed/auction"
	"github.com/blinklabs-io/deed/conveyance"
	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/blinklabs-io/deed/governance"
	"github.com/blinklabs-io/deed/internal/smath"
	"github.com/blinklabs-io/deed/ledger"
	"github.com/blinklabs-io/deed/settlement"
	"github.com/blinklabs-io/deed/tick"
	"gorm.io/gorm"
)

const SubjectRegisteredEventType event.EventType = "deed.subject_registered"

type SubjectRegisteredEvent struct {
	Subject     uint64
	TotalShares uint64
	Owners      int
}

var ErrSubjectExists = errors.New("subject already registered")

// archivedEventTypes is everything the audit archive subscribes to
var archivedEventTypes = []event.EventType{
	SubjectRegisteredEventType,
	governance.RoundOpenedEventType,
	governance.VoteCastEventType,
	governance.RoundPassedEventType,
	governance.RoundRejectedEventType,
	auction.AuctionOpenedEventType,
	auction.BidPlacedEventType,
	auction.AuctionSettledEventType,
	conveyance.SideClaimedEventType,
	conveyance.SaleApprovedEventType,
	conveyance.SaleAbortedEventType,
	conveyance.RetryStartedEventType,
	settlement.SaleFinalizedEventType,
	settlement.ProceedsClaimedEventType,
	settlement.SubjectRetiredEventType,
	tick.ResolutionFailedEventType,
}

type Engine struct {
	config      Config
	logger      *slog.Logger
	eventBus    *event.EventBus
	db          *database.Database
	ledger      *ledger.Ledger
	scheduler   *tick.Scheduler
	governance  *governance.Governance
	auctions    *auction.AuctionEngine
	conveyance  *conveyance.Conveyance
	settlement  *settlement.Settlement
	archive     *archive.Archive
	tickMu      sync.Mutex
	currentTick uint64
	stopOnce    sync.Once
}

func New(cfg Config) (*Engine, error) {
	e := &Engine{
		config: cfg,
		logger: cfg.logger,
	}
	if e.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e.eventBus = event.NewEventBus(cfg.promRegistry, e.logger)
	db, err := database.New(e.logger, cfg.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db
	e.currentTick, err = db.GetTickState(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load tick state: %w", err)
	}
	e.ledger = ledger.NewLedger(ledger.LedgerConfig{
		Logger:   e.logger,
		Database: db,
	})
	e.scheduler = tick.NewScheduler(tick.SchedulerConfig{
		Logger:         e.logger,
		EventBus:       e.eventBus,
		PromRegistry:   cfg.promRegistry,
		Database:       db,
		BucketCapacity: cfg.bucketCapacity,
	})
	e.auctions = auction.NewAuctionEngine(auction.AuctionConfig{
		Logger:       e.logger,
		EventBus:     e.eventBus,
		PromRegistry: cfg.promRegistry,
		Database:     db,
		Ledger:       e.ledger,
		Scheduler:    e.scheduler,
	})
	e.governance = governance.NewGovernance(governance.GovernanceConfig{
		Logger:       e.logger,
		EventBus:     e.eventBus,
		PromRegistry: cfg.promRegistry,
		Database:     db,
		Ledger:       e.ledger,
		Scheduler:    e.scheduler,
		Auctions:     e.auctions,
		AuctionTicks: cfg.auctionTicks,
	})
	e.conveyance = conveyance.NewConveyance(conveyance.ConveyanceConfig{
		Logger:       e.logger,
		EventBus:     e.eventBus,
		PromRegistry: cfg.promRegistry,
		Database:     db,
		Ledger:       e.ledger,
		BondReason:   auction.BondReason,
	})
	e.settlement = settlement.NewSettlement(settlement.SettlementConfig{
		Logger:          e.logger,
		EventBus:        e.eventBus,
		PromRegistry:    cfg.promRegistry,
		Database:        db,
		Ledger:          e.ledger,
		TreasuryAccount: cfg.treasuryAccount,
		BondReason:      auction.BondReason,
	})
	if !cfg.archiveDisabled {
		arch, err := archive.NewArchive(archive.ArchiveConfig{
			Logger:       e.logger,
			PromRegistry: cfg.promRegistry,
			DataDir:      cfg.archiveDir,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		e.archive = arch
		arch.Attach(e.eventBus, archivedEventTypes...)
	}
	return e, nil
}

// Stop shuts the engine down, closing the event bus, audit archive, and
// database
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.eventBus.Stop()
		if e.archive != nil {
			err = e.archive.Close()
		}
		if dbErr := e.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	})
	return err
}

// CurrentTick returns the engine's logical clock
func (e *Engine) CurrentTick() uint64 {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.currentTick
}

// AdvanceTick moves the logical clock forward by one tick and resolves
// every deadline that lands on it. The clock advance and the bucket take
// commit together, so a failure leaves both the clock and the tick's
// deadlines in place for a retry.
func (e *Engine) AdvanceTick() error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	next := e.currentTick + 1
	var entries []models.ScheduleEntry
	err := e.db.Transaction(func(txn *gorm.DB) error {
		if err := e.db.SetTickState(next, txn); err != nil {
			return err
		}
		var err error
		entries, err = e.scheduler.TakeBucket(txn, next)
		return err
	})
	if err != nil {
		return err
	}
	e.currentTick = next
	e.scheduler.Dispatch(next, entries)
	return nil
}

// RegisterSubject registers a tokenized subject and mints its initial
// ownership distribution. The total share supply is fixed at registration.
func (e *Engine) RegisterSubject(
	subjectId uint64,
	regionAccount string,
	reserveAccount string,
	owners map[string]uint64,
) error {
	var totalShares uint64
	err := e.db.Transaction(func(txn *gorm.DB) error {
		existing, err := e.db.GetSubject(subjectId, txn)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %d", ErrSubjectExists, subjectId)
		}
		accounts := make([]string, 0, len(owners))
		for account := range owners {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		for _, account := range accounts {
			total, err := smath.Add(totalShares, owners[account])
			if err != nil {
				return err
			}
			totalShares = total
		}
		subject := &models.Subject{
			ID:             subjectId,
			RegionAccount:  regionAccount,
			ReserveAccount: reserveAccount,
			TotalShares:    totalShares,
		}
		if err := e.db.AddSubject(subject, txn); err != nil {
			return err
		}
		for _, account := range accounts {
			if owners[account] == 0 {
				continue
			}
			if err := e.ledger.MintShares(
				txn,
				subjectId,
				account,
				owners[account],
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info(
		"subject registered",
		"component", "deed",
		"subject", subjectId,
		"total_shares", totalShares,
		"owners", len(owners),
	)
	e.eventBus.Publish(
		SubjectRegisteredEventType,
		event.NewEvent(
			SubjectRegisteredEventType,
			SubjectRegisteredEvent{
				Subject:     subjectId,
				TotalShares: totalShares,
				Owners:      len(owners),
			},
		),
	)
	return nil
}

// Deposit credits an account's free balance. This is the external on-ramp
// for funds.
func (e *Engine) Deposit(asset uint64, account string, amount uint64) error {
	return e.db.Transaction(func(txn *gorm.DB) error {
		return e.ledger.Credit(txn, asset, account, amount)
	})
}

// Balance returns an account's free balance in an asset
func (e *Engine) Balance(asset uint64, account string) (uint64, error) {
	return e.ledger.Balance(nil, asset, account)
}

// GrantRole grants a platform role (lawyer, investor, agent) to an account
func (e *Engine) GrantRole(account string, role string) error {
	return e.db.Transaction(func(txn *gorm.DB) error {
		return e.ledger.GrantRole(txn, account, role)
	})
}

// Strikes returns the strike count against an operator
func (e *Engine) Strikes(operator string) (uint64, error) {
	return e.db.GetStrikes(operator, nil)
}

// ProposeSale opens a sale-proposal voting round
func (e *Engine) ProposeSale(
	subject uint64,
	proposer string,
	reservePrice uint64,
	votingTicks uint64,
) (uint64, error) {
	return e.governance.ProposeSale(
		subject,
		proposer,
		reservePrice,
		votingTicks,
		e.CurrentTick(),
	)
}

// ProposeMaintenance opens a maintenance-proposal voting round
func (e *Engine) ProposeMaintenance(
	subject uint64,
	proposer string,
	amount uint64,
	asset uint64,
	beneficiary string,
	votingTicks uint64,
) (uint64, error) {
	return e.governance.ProposeMaintenance(
		subject,
		proposer,
		amount,
		asset,
		beneficiary,
		votingTicks,
		e.CurrentTick(),
	)
}

// ProposeChallenge opens an operator-challenge voting round
func (e *Engine) ProposeChallenge(
	subject uint64,
	challenger string,
	operator string,
	votingTicks uint64,
) (uint64, error) {
	return e.governance.ProposeChallenge(
		subject,
		challenger,
		operator,
		votingTicks,
		e.CurrentTick(),
	)
}

// CastVote records a weighted vote on an open round
func (e *Engine) CastVote(
	roundId uint64,
	voter string,
	choice uint8,
	power uint64,
) error {
	return e.governance.CastVote(roundId, voter, choice, power, e.CurrentTick())
}

// OpenAuction opens an auction directly, outside of any voting round,
// closing after auctionTicks ticks
func (e *Engine) OpenAuction(
	subject uint64,
	reservePrice uint64,
	auctionTicks uint64,
) error {
	return e.auctions.Open(
		subject,
		reservePrice,
		e.CurrentTick()+auctionTicks,
	)
}

// Bid places a bid on a subject's open auction
func (e *Engine) Bid(
	subject uint64,
	bidder string,
	price uint64,
	asset uint64,
) error {
	return e.auctions.Bid(subject, bidder, price, asset, e.CurrentTick())
}

// ClaimSide assigns a lawyer to one side of a pending sale
func (e *Engine) ClaimSide(
	subject uint64,
	lawyer string,
	side conveyance.Side,
	cost uint64,
) error {
	return e.conveyance.ClaimSide(subject, lawyer, side, cost)
}

// Confirm records a case lawyer's approval or rejection of a pending sale
func (e *Engine) Confirm(subject uint64, lawyer string, approve bool) error {
	return e.conveyance.Confirm(subject, lawyer, approve)
}

// Finalize settles an approved sale, collecting the price and fee
func (e *Engine) Finalize(
	subject uint64,
	caller string,
	paymentAsset uint64,
) error {
	return e.settlement.Finalize(subject, caller, paymentAsset)
}

// Claim pays a former owner their pro-rata share of a finalized sale
func (e *Engine) Claim(
	subject uint64,
	claimant string,
	preferredAsset uint64,
) error {
	return e.settlement.Claim(subject, claimant, preferredAsset)
}

// Database returns the engine's database instance
func (e *Engine) Database() *database.Database {
	return e.db
}

// EventBus returns the engine's event bus
func (e *Engine) EventBus() *event.EventBus {
	return e.eventBus
}

// Ledger returns the engine's ledger
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Archive returns the engine's audit archive, or nil when disabled
func (e *Engine) Archive() *archive.Archive {
	return e.archive
}
