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

// Package settlement implements sale finalization and the pro-rata
// distribution of proceeds to the former owners. Finalization collects the
// full purchase price into the subject's escrow account, carves the
// platform fee out of it, and leaves per-asset fund pools for owners to
// claim against. Claims burn the claimant's ownership tokens; the last
// claim retires the subject entirely.
package settlement

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/blinklabs-io/deed/internal/smath"
	"github.com/blinklabs-io/deed/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

const (
	SaleFinalizedEventType   event.EventType = "settlement.sale_finalized"
	ProceedsClaimedEventType event.EventType = "settlement.proceeds_claimed"
	SubjectRetiredEventType  event.EventType = "settlement.subject_retired"
)

type SaleFinalizedEvent struct {
	Subject     uint64
	Buyer       string
	Price       uint64
	Fee         uint64
	NetProceeds uint64
}

type ProceedsClaimedEvent struct {
	Subject  uint64
	Claimant string
	Shares   uint64
	Payout   uint64
}

type SubjectRetiredEvent struct {
	Subject uint64
}

// FeeDivisor expresses the platform fee as price/50 (two percent). Lawyer
// costs are paid out of the fee; what remains is split between the
// subject's region account and the platform treasury.
const FeeDivisor = 50

var (
	ErrNoPendingSale    = errors.New("no pending sale for subject")
	ErrWrongSaleState   = errors.New("sale is not in the required state")
	ErrNotBuyerLawyer   = errors.New("only the buyer's lawyer may finalize")
	ErrNoShares         = errors.New("claimant holds no shares in subject")
	ErrVotesOutstanding = errors.New("claimant has votes on open rounds")
)

type SettlementConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Database     *database.Database
	Ledger       *ledger.Ledger
	// TreasuryAccount receives the platform's share of the fee residual
	TreasuryAccount string
	// BondReason maps a subject to the hold reason carrying the buyer's
	// auction bond, which finalization settles into escrow
	BondReason func(subject uint64) string
}

type Settlement struct {
	config   SettlementConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database
	ledger   *ledger.Ledger
	metrics  struct {
		salesFinalized  prometheus.Counter
		claimsPaid      prometheus.Counter
		subjectsRetired prometheus.Counter
	}
}

func NewSettlement(config SettlementConfig) *Settlement {
	s := &Settlement{
		config:   config,
		eventBus: config.EventBus,
		db:       config.Database,
		ledger:   config.Ledger,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	s.metrics.salesFinalized = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_settlement_sales_finalized_total",
			Help: "total sales finalized",
		},
	)
	s.metrics.claimsPaid = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_settlement_claims_paid_total",
			Help: "total pro-rata proceeds claims paid out",
		},
	)
	s.metrics.subjectsRetired = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_settlement_subjects_retired_total",
			Help: "total subjects retired after full distribution",
		},
	)
	return s
}

// Finalize settles an approved sale. The caller must be the buyer's
// lawyer, and the caller's own funds cover the remainder of the price (the
// bond hold covers the rest) plus the fee components. The fee is carved
// out and distributed, and the net proceeds land in the subject's escrow
// account mirrored by per-asset fund pools.
func (s *Settlement) Finalize(
	subject uint64,
	caller string,
	paymentAsset uint64,
) error {
	var finalized SaleFinalizedEvent
	err := s.db.Transaction(func(txn *gorm.DB) error {
		sale, err := s.db.GetSaleRecord(subject, txn)
		if err != nil {
			return err
		}
		if sale == nil {
			return fmt.Errorf("%w: %d", ErrNoPendingSale, subject)
		}
		if sale.State != models.SaleStateApproved {
			return ErrWrongSaleState
		}
		if caller != sale.BuyerLawyer {
			return ErrNotBuyerLawyer
		}
		subj, err := s.db.GetSubject(subject, txn)
		if err != nil {
			return err
		}
		if subj == nil {
			return ledger.ErrUnknownSubject
		}
		fee := sale.Price / FeeDivisor
		// Lawyer costs were capped at price/100 each when the sides were
		// claimed, so the fee covers them on any record this engine wrote
		residual, err := smath.Sub(fee, sale.SellerCost)
		if err != nil {
			return err
		}
		residual, err = smath.Sub(residual, sale.BuyerCost)
		if err != nil {
			return err
		}
		regionShare := residual / 2
		treasuryShare := residual - regionShare
		owed, err := smath.Sub(sale.Price, fee)
		if err != nil {
			return err
		}
		owed, err = smath.Sub(owed, sale.BondAmount)
		if err != nil {
			return err
		}
		escrow := ledger.EscrowAccount(subject)
		// Price remainder into escrow, out of the caller's funds
		if err := s.ledger.Transfer(
			txn,
			paymentAsset,
			caller,
			escrow,
			owed,
		); err != nil {
			return err
		}
		if err := s.db.AddToFundPool(subject, paymentAsset, owed, txn); err != nil {
			return err
		}
		// Fee distribution, also paid by the caller
		if err := s.ledger.Transfer(
			txn,
			paymentAsset,
			caller,
			sale.SellerLawyer,
			sale.SellerCost,
		); err != nil {
			return err
		}
		if err := s.ledger.Transfer(
			txn,
			paymentAsset,
			caller,
			sale.BuyerLawyer,
			sale.BuyerCost,
		); err != nil {
			return err
		}
		if err := s.ledger.Transfer(
			txn,
			paymentAsset,
			caller,
			subj.RegionAccount,
			regionShare,
		); err != nil {
			return err
		}
		if err := s.ledger.Transfer(
			txn,
			paymentAsset,
			caller,
			s.config.TreasuryAccount,
			treasuryShare,
		); err != nil {
			return err
		}
		// The bond hold becomes part of the proceeds
		bond, err := s.ledger.SettleHold(
			txn,
			sale.BondAsset,
			sale.Buyer,
			s.config.BondReason(subject),
			escrow,
		)
		if err != nil {
			return err
		}
		if err := s.db.AddToFundPool(subject, sale.BondAsset, bond, txn); err != nil {
			return err
		}
		if err := s.ledger.AdjustLawyerCases(txn, sale.SellerLawyer, -1); err != nil {
			return err
		}
		if err := s.ledger.AdjustLawyerCases(txn, sale.BuyerLawyer, -1); err != nil {
			return err
		}
		sale.NetProceeds = sale.Price - fee
		sale.State = models.SaleStateFinalized
		finalized = SaleFinalizedEvent{
			Subject:     subject,
			Buyer:       sale.Buyer,
			Price:       sale.Price,
			Fee:         fee,
			NetProceeds: sale.NetProceeds,
		}
		return s.db.UpdateSaleRecord(sale, txn)
	})
	if err != nil {
		return err
	}
	s.metrics.salesFinalized.Inc()
	s.logger.Info(
		"sale finalized",
		"component", "settlement",
		"subject", subject,
		"buyer", finalized.Buyer,
		"price", finalized.Price,
		"fee", finalized.Fee,
		"net_proceeds", finalized.NetProceeds,
	)
	if s.eventBus != nil {
		s.eventBus.Publish(
			SaleFinalizedEventType,
			event.NewEvent(SaleFinalizedEventType, finalized),
		)
	}
	return nil
}
