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

// Package auction implements the ascending-price auction with bond escrow.
// Each bid holds a bond of one tenth of the bid price; outbidding releases
// the previous bidder's bond and takes the new one in the same transaction,
// so there is never a window with zero or two bonds held. An auction that
// expires with a bid becomes a sale record; without one it is discarded.
package auction

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/deed/database"
	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/blinklabs-io/deed/ledger"
	"github.com/blinklabs-io/deed/tick"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

const (
	AuctionOpenedEventType  event.EventType = "auction.opened"
	BidPlacedEventType      event.EventType = "auction.bid_placed"
	AuctionSettledEventType event.EventType = "auction.settled"
)

type AuctionOpenedEvent struct {
	Subject      uint64
	ReservePrice uint64
	ExpiryTick   uint64
}

type BidPlacedEvent struct {
	Subject    uint64
	Bidder     string
	Price      uint64
	BondAsset  uint64
	BondAmount uint64
}

// AuctionSettledEvent is published at auction expiry. Sold reports whether
// a sale record was created.
type AuctionSettledEvent struct {
	Subject uint64
	Sold    bool
	Buyer   string
	Price   uint64
}

// BondDivisor is the fraction of the bid price held as a bond
const BondDivisor = 10

var (
	ErrAuctionOngoing = errors.New("subject already has an open auction")
	ErrSaleOngoing    = errors.New("subject already has a pending sale")
)

// NoOngoingAuctionError is returned when bidding on a subject without an
// open, unexpired auction
type NoOngoingAuctionError struct {
	Subject uint64
}

func (e *NoOngoingAuctionError) Error() string {
	return fmt.Sprintf("no ongoing auction for subject %d", e.Subject)
}

// BidTooLowError is returned when a bid does not strictly exceed the
// current price (or meet the reserve for the opening bid)
type BidTooLowError struct {
	Price    uint64
	Required uint64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf(
		"bid too low: offered %d, need at least %d",
		e.Price,
		e.Required,
	)
}

// BondReason returns the hold reason used for a subject's auction bond
func BondReason(subject uint64) string {
	return fmt.Sprintf("bid:%d", subject)
}

type AuctionConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Database     *database.Database
	Ledger       *ledger.Ledger
	Scheduler    *tick.Scheduler
}

type AuctionEngine struct {
	config   AuctionConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database
	ledger   *ledger.Ledger
	metrics  struct {
		auctionsOpened prometheus.Counter
		bidsPlaced     prometheus.Counter
		salesCreated   prometheus.Counter
	}
}

func NewAuctionEngine(config AuctionConfig) *AuctionEngine {
	a := &AuctionEngine{
		config:   config,
		eventBus: config.EventBus,
		db:       config.Database,
		ledger:   config.Ledger,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		a.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	a.metrics.auctionsOpened = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_auctions_opened_total",
			Help: "total auctions opened",
		},
	)
	a.metrics.bidsPlaced = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_auction_bids_total",
			Help: "total auction bids placed",
		},
	)
	a.metrics.salesCreated = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_auction_sales_created_total",
			Help: "total auctions settled into sale records",
		},
	)
	// The scheduler invokes auction settlement when an auction's expiry
	// tick arrives
	config.Scheduler.RegisterResolver(
		models.ScheduleKindAuction,
		a.resolveEntry,
	)
	return a
}

// OpenAuction creates an auction within the caller's transaction. This is
// the entry point used by a passing sale round.
func (a *AuctionEngine) OpenAuction(
	txn *gorm.DB,
	subject uint64,
	reservePrice uint64,
	expiryTick uint64,
) error {
	existing, err := a.db.GetAuction(subject, txn)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAuctionOngoing
	}
	sale, err := a.db.GetSaleRecord(subject, txn)
	if err != nil {
		return err
	}
	if sale != nil {
		return ErrSaleOngoing
	}
	auction := &models.Auction{
		Subject:      subject,
		ReservePrice: reservePrice,
		ExpiryTick:   expiryTick,
	}
	if err := a.db.AddAuction(auction, txn); err != nil {
		return err
	}
	if err := a.config.Scheduler.Schedule(
		txn,
		expiryTick,
		models.ScheduleKindAuction,
		subject,
	); err != nil {
		return err
	}
	a.metrics.auctionsOpened.Inc()
	a.logger.Info(
		"auction opened",
		"component", "auction",
		"subject", subject,
		"reserve_price", reservePrice,
		"expiry_tick", expiryTick,
	)
	if a.eventBus != nil {
		a.eventBus.Publish(
			AuctionOpenedEventType,
			event.NewEvent(
				AuctionOpenedEventType,
				AuctionOpenedEvent{
					Subject:      subject,
					ReservePrice: reservePrice,
					ExpiryTick:   expiryTick,
				},
			),
		)
	}
	return nil
}

// Open creates an auction directly, outside of any voting round
func (a *AuctionEngine) Open(
	subject uint64,
	reservePrice uint64,
	expiryTick uint64,
) error {
	return a.db.Transaction(func(txn *gorm.DB) error {
		return a.OpenAuction(txn, subject, reservePrice, expiryTick)
	})
}

// Bid places a bid on a subject's open auction. The bond (price/10) is
// held in the given asset; a previous bidder's bond is released in the
// same transaction. When the current highest bidder raises their own bid
// in the same asset, only the bond increment is additionally held.
func (a *AuctionEngine) Bid(
	subject uint64,
	bidder string,
	price uint64,
	asset uint64,
	currentTick uint64,
) error {
	var placed BidPlacedEvent
	err := a.db.Transaction(func(txn *gorm.DB) error {
		if err := a.ledger.RequireRole(
			txn,
			bidder,
			ledger.RoleInvestor,
		); err != nil {
			return err
		}
		auction, err := a.db.GetAuction(subject, txn)
		if err != nil {
			return err
		}
		if auction == nil || currentTick >= auction.ExpiryTick {
			return &NoOngoingAuctionError{Subject: subject}
		}
		if auction.Bidder == "" {
			if price < auction.ReservePrice {
				return &BidTooLowError{
					Price:    price,
					Required: auction.ReservePrice,
				}
			}
		} else if price <= auction.Price {
			return &BidTooLowError{
				Price:    price,
				Required: auction.Price + 1,
			}
		}
		bond := price / BondDivisor
		reason := BondReason(subject)
		if auction.Bidder == bidder && auction.BondAsset == asset {
			// Self-raise in the same asset holds only the increment
			if err := a.ledger.HoldFunds(
				txn,
				asset,
				bidder,
				reason,
				bond-auction.BondAmount,
			); err != nil {
				return err
			}
		} else {
			if auction.Bidder != "" {
				if _, err := a.ledger.ReleaseHold(
					txn,
					auction.BondAsset,
					auction.Bidder,
					reason,
				); err != nil {
					return err
				}
			}
			if err := a.ledger.HoldFunds(
				txn,
				asset,
				bidder,
				reason,
				bond,
			); err != nil {
				return err
			}
		}
		auction.Bidder = bidder
		auction.Price = price
		auction.BondAsset = asset
		auction.BondAmount = bond
		placed = BidPlacedEvent{
			Subject:    subject,
			Bidder:     bidder,
			Price:      price,
			BondAsset:  asset,
			BondAmount: bond,
		}
		return a.db.UpdateAuction(auction, txn)
	})
	if err != nil {
		return err
	}
	a.metrics.bidsPlaced.Inc()
	a.logger.Info(
		"bid placed",
		"component", "auction",
		"subject", subject,
		"bidder", bidder,
		"price", price,
		"bond", placed.BondAmount,
	)
	if a.eventBus != nil {
		a.eventBus.Publish(
			BidPlacedEventType,
			event.NewEvent(BidPlacedEventType, placed),
		)
	}
	return nil
}

// resolveEntry is the scheduler resolver for auction expiries. With a bid
// present the auction becomes a sale record and the bond stays held,
// earmarked for settlement; without one the auction is discarded.
func (a *AuctionEngine) resolveEntry(entry models.ScheduleEntry) error {
	subject := entry.RefID
	var settled AuctionSettledEvent
	err := a.db.Transaction(func(txn *gorm.DB) error {
		auction, err := a.db.GetAuction(subject, txn)
		if err != nil {
			return err
		}
		if auction == nil {
			return &NoOngoingAuctionError{Subject: subject}
		}
		settled = AuctionSettledEvent{Subject: subject}
		if auction.Price > 0 && auction.Bidder != "" {
			totalShares, err := a.ledger.TotalSupply(txn, subject)
			if err != nil {
				return err
			}
			sale := &models.SaleRecord{
				Subject:         subject,
				State:           models.SaleStateAwaitingClaims,
				Buyer:           auction.Bidder,
				Price:           auction.Price,
				BondAsset:       auction.BondAsset,
				BondAmount:      auction.BondAmount,
				SellerStatus:    models.SideStatusPending,
				BuyerStatus:     models.SideStatusPending,
				TotalShares:     totalShares,
				RemainingShares: totalShares,
			}
			if err := a.db.AddSaleRecord(sale, txn); err != nil {
				return err
			}
			settled.Sold = true
			settled.Buyer = auction.Bidder
			settled.Price = auction.Price
		}
		return a.db.DeleteAuction(subject, txn)
	})
	if err != nil {
		return err
	}
	if settled.Sold {
		a.metrics.salesCreated.Inc()
	}
	a.logger.Info(
		"auction settled",
		"component", "auction",
		"subject", subject,
		"sold", settled.Sold,
		"price", settled.Price,
	)
	if a.eventBus != nil {
		a.eventBus.Publish(
			AuctionSettledEventType,
			event.NewEvent(AuctionSettledEventType, settled),
		)
	}
	return nil
}
