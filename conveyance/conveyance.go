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

// Package conveyance implements the two-party legal confirmation of a
// concluded sale. Each side of the sale is represented by a lawyer who
// claims the case and then approves or rejects it. Agreement to approve
// moves the sale on to settlement; agreement to reject aborts it. A split
// outcome grants exactly one retry pass; a second split aborts.
package conveyance

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/blinklabs-io/deed/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

const (
	SideClaimedEventType  event.EventType = "conveyance.side_claimed"
	SaleApprovedEventType event.EventType = "conveyance.sale_approved"
	SaleAbortedEventType  event.EventType = "conveyance.sale_aborted"
	RetryStartedEventType event.EventType = "conveyance.retry_started"
)

// Side identifies which party of the sale a lawyer represents
type Side uint8

const (
	SideSeller Side = 0
	SideBuyer  Side = 1
)

func (s Side) String() string {
	if s == SideBuyer {
		return "buyer"
	}
	return "seller"
}

type SideClaimedEvent struct {
	Subject uint64
	Side    Side
	Lawyer  string
	Cost    uint64
}

type SaleApprovedEvent struct {
	Subject uint64
	Buyer   string
	Price   uint64
}

type SaleAbortedEvent struct {
	Subject      uint64
	Buyer        string
	BondReturned uint64
}

type RetryStartedEvent struct {
	Subject uint64
}

// CostCapDivisor bounds each side's declared legal cost to price/100
const CostCapDivisor = 100

var (
	ErrNoPendingSale  = errors.New("no pending sale for subject")
	ErrWrongSaleState = errors.New("sale is not in the required state")
	ErrSideTaken      = errors.New("side already claimed")
	ErrBothSides      = errors.New("lawyer already represents the other side")
	ErrNotCaseLawyer  = errors.New("account is not a lawyer on this sale")
	ErrAlreadyDecided = errors.New("side has already confirmed this pass")
	ErrInvalidSide    = errors.New("invalid side")
)

// CostTooHighError is returned when a claimed legal cost exceeds the cap
type CostTooHighError struct {
	Cost uint64
	Cap  uint64
}

func (e *CostTooHighError) Error() string {
	return fmt.Sprintf("legal cost %d exceeds cap %d", e.Cost, e.Cap)
}

type ConveyanceConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Database     *database.Database
	Ledger       *ledger.Ledger
	// BondReason maps a subject to the hold reason carrying the buyer's
	// auction bond, so an aborted sale can return it
	BondReason func(subject uint64) string
}

type Conveyance struct {
	config   ConveyanceConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database
	ledger   *ledger.Ledger
	metrics  struct {
		sidesClaimed  prometheus.Counter
		salesApproved prometheus.Counter
		salesAborted  prometheus.Counter
		retries       prometheus.Counter
	}
}

func NewConveyance(config ConveyanceConfig) *Conveyance {
	c := &Conveyance{
		config:   config,
		eventBus: config.EventBus,
		db:       config.Database,
		ledger:   config.Ledger,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		c.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	c.metrics.sidesClaimed = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_conveyance_sides_claimed_total",
			Help: "total sale sides claimed by lawyers",
		},
	)
	c.metrics.salesApproved = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_conveyance_sales_approved_total",
			Help: "total sales approved by both sides",
		},
	)
	c.metrics.salesAborted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_conveyance_sales_aborted_total",
			Help: "total sales aborted during confirmation",
		},
	)
	c.metrics.retries = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_conveyance_retries_total",
			Help: "total confirmation retries after a split outcome",
		},
	)
	return c
}

// ClaimSide assigns a lawyer to one side of a pending sale, recording the
// side's declared legal cost. The cost is capped at one percent of the
// sale price. When both sides are claimed the sale enters its first
// confirmation pass.
func (c *Conveyance) ClaimSide(
	subject uint64,
	lawyer string,
	side Side,
	cost uint64,
) error {
	if side != SideSeller && side != SideBuyer {
		return ErrInvalidSide
	}
	var claimed SideClaimedEvent
	err := c.db.Transaction(func(txn *gorm.DB) error {
		if err := c.ledger.RequireRole(txn, lawyer, ledger.RoleLawyer); err != nil {
			return err
		}
		sale, err := c.db.GetSaleRecord(subject, txn)
		if err != nil {
			return err
		}
		if sale == nil {
			return fmt.Errorf("%w: %d", ErrNoPendingSale, subject)
		}
		if sale.State != models.SaleStateAwaitingClaims {
			return ErrWrongSaleState
		}
		costCap := sale.Price / CostCapDivisor
		if cost > costCap {
			return &CostTooHighError{Cost: cost, Cap: costCap}
		}
		switch side {
		case SideSeller:
			if sale.SellerLawyer != "" {
				return ErrSideTaken
			}
			if sale.BuyerLawyer == lawyer {
				return ErrBothSides
			}
			sale.SellerLawyer = lawyer
			sale.SellerCost = cost
		case SideBuyer:
			if sale.BuyerLawyer != "" {
				return ErrSideTaken
			}
			if sale.SellerLawyer == lawyer {
				return ErrBothSides
			}
			sale.BuyerLawyer = lawyer
			sale.BuyerCost = cost
		}
		if err := c.ledger.AdjustLawyerCases(txn, lawyer, 1); err != nil {
			return err
		}
		if sale.SellerLawyer != "" && sale.BuyerLawyer != "" {
			sale.State = models.SaleStateAwaitingFirst
		}
		claimed = SideClaimedEvent{
			Subject: subject,
			Side:    side,
			Lawyer:  lawyer,
			Cost:    cost,
		}
		return c.db.UpdateSaleRecord(sale, txn)
	})
	if err != nil {
		return err
	}
	c.metrics.sidesClaimed.Inc()
	c.logger.Info(
		"sale side claimed",
		"component", "conveyance",
		"subject", subject,
		"side", side.String(),
		"lawyer", lawyer,
		"cost", cost,
	)
	if c.eventBus != nil {
		c.eventBus.Publish(
			SideClaimedEventType,
			event.NewEvent(SideClaimedEventType, claimed),
		)
	}
	return nil
}

// confirmOutcome records what a completed Confirm call did so the right
// event can be published after commit
type confirmOutcome struct {
	approved bool
	aborted  bool
	retried  bool
	buyer    string
	price    uint64
	bond     uint64
}

// Confirm records a case lawyer's approval or rejection on the current
// confirmation pass. Once both sides have decided: agreement to approve
// moves the sale to Approved, agreement to reject aborts it, and a split
// resets both decisions for one retry pass. A split on the retry pass
// aborts.
func (c *Conveyance) Confirm(
	subject uint64,
	lawyer string,
	approve bool,
) error {
	var outcome confirmOutcome
	err := c.db.Transaction(func(txn *gorm.DB) error {
		sale, err := c.db.GetSaleRecord(subject, txn)
		if err != nil {
			return err
		}
		if sale == nil {
			return fmt.Errorf("%w: %d", ErrNoPendingSale, subject)
		}
		if sale.State != models.SaleStateAwaitingFirst &&
			sale.State != models.SaleStateAwaitingRetry {
			return ErrWrongSaleState
		}
		status := uint8(models.SideStatusRejected)
		if approve {
			status = models.SideStatusApproved
		}
		switch lawyer {
		case sale.SellerLawyer:
			if sale.SellerStatus != models.SideStatusPending {
				return ErrAlreadyDecided
			}
			sale.SellerStatus = status
		case sale.BuyerLawyer:
			if sale.BuyerStatus != models.SideStatusPending {
				return ErrAlreadyDecided
			}
			sale.BuyerStatus = status
		default:
			return fmt.Errorf("%w: %s", ErrNotCaseLawyer, lawyer)
		}
		if sale.SellerStatus == models.SideStatusPending ||
			sale.BuyerStatus == models.SideStatusPending {
			return c.db.UpdateSaleRecord(sale, txn)
		}
		// Both sides have decided
		switch {
		case sale.SellerStatus == models.SideStatusApproved &&
			sale.BuyerStatus == models.SideStatusApproved:
			sale.State = models.SaleStateApproved
			outcome.approved = true
			outcome.buyer = sale.Buyer
			outcome.price = sale.Price
			return c.db.UpdateSaleRecord(sale, txn)
		case sale.SellerStatus == models.SideStatusRejected &&
			sale.BuyerStatus == models.SideStatusRejected:
			return c.abort(txn, sale, &outcome)
		default:
			// Split outcome
			if sale.State == models.SaleStateAwaitingRetry {
				return c.abort(txn, sale, &outcome)
			}
			sale.State = models.SaleStateAwaitingRetry
			sale.SellerStatus = models.SideStatusPending
			sale.BuyerStatus = models.SideStatusPending
			outcome.retried = true
			return c.db.UpdateSaleRecord(sale, txn)
		}
	})
	if err != nil {
		return err
	}
	c.publishOutcome(subject, outcome)
	return nil
}

// abort tears down a rejected sale: the buyer's bond hold is released back
// to them, both lawyers' case counts drop, and the record is deleted
func (c *Conveyance) abort(
	txn *gorm.DB,
	sale *models.SaleRecord,
	outcome *confirmOutcome,
) error {
	released, err := c.ledger.ReleaseHold(
		txn,
		sale.BondAsset,
		sale.Buyer,
		c.config.BondReason(sale.Subject),
	)
	if err != nil {
		return err
	}
	if err := c.ledger.AdjustLawyerCases(txn, sale.SellerLawyer, -1); err != nil {
		return err
	}
	if err := c.ledger.AdjustLawyerCases(txn, sale.BuyerLawyer, -1); err != nil {
		return err
	}
	outcome.aborted = true
	outcome.buyer = sale.Buyer
	outcome.bond = released
	return c.db.DeleteSaleRecord(sale.Subject, txn)
}

func (c *Conveyance) publishOutcome(subject uint64, outcome confirmOutcome) {
	switch {
	case outcome.approved:
		c.metrics.salesApproved.Inc()
		c.logger.Info(
			"sale approved",
			"component", "conveyance",
			"subject", subject,
			"buyer", outcome.buyer,
			"price", outcome.price,
		)
		if c.eventBus != nil {
			c.eventBus.Publish(
				SaleApprovedEventType,
				event.NewEvent(
					SaleApprovedEventType,
					SaleApprovedEvent{
						Subject: subject,
						Buyer:   outcome.buyer,
						Price:   outcome.price,
					},
				),
			)
		}
	case outcome.aborted:
		c.metrics.salesAborted.Inc()
		c.logger.Info(
			"sale aborted",
			"component", "conveyance",
			"subject", subject,
			"buyer", outcome.buyer,
			"bond_returned", outcome.bond,
		)
		if c.eventBus != nil {
			c.eventBus.Publish(
				SaleAbortedEventType,
				event.NewEvent(
					SaleAbortedEventType,
					SaleAbortedEvent{
						Subject:      subject,
						Buyer:        outcome.buyer,
						BondReturned: outcome.bond,
					},
				),
			)
		}
	case outcome.retried:
		c.metrics.retries.Inc()
		c.logger.Info(
			"confirmation retry started",
			"component", "conveyance",
			"subject", subject,
		)
		if c.eventBus != nil {
			c.eventBus.Publish(
				RetryStartedEventType,
				event.NewEvent(
					RetryStartedEventType,
					RetryStartedEvent{Subject: subject},
				),
			)
		}
	}
}
