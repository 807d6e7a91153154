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

// Package governance implements the weighted vote ledger: time-boxed
// rounds over a subject's sale, maintenance, and operator-challenge
// decisions, with votes backed by share-stake holds. A voter's open vote
// records are the holds: casting a new vote supersedes the old record so
// stake is never counted or held twice, and resolution releases everything
// atomically with the tally teardown.
package governance

import (
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
	RoundOpenedEventType   event.EventType = "governance.round_opened"
	VoteCastEventType      event.EventType = "governance.vote_cast"
	RoundPassedEventType   event.EventType = "governance.round_passed"
	RoundRejectedEventType event.EventType = "governance.round_rejected"
)

type RoundOpenedEvent struct {
	RoundID    uint64
	Subject    uint64
	Kind       uint8
	ExpiryTick uint64
}

type VoteCastEvent struct {
	RoundID uint64
	Subject uint64
	Voter   string
	Choice  uint8
	Power   uint64
}

type RoundResolvedEvent struct {
	RoundID  uint64
	Subject  uint64
	Kind     uint8
	YesPower uint64
	NoPower  uint64
}

// AuctionOpener is the narrow auction-engine contract used when a sale
// round passes
type AuctionOpener interface {
	OpenAuction(
		txn *gorm.DB,
		subject uint64,
		reservePrice uint64,
		expiryTick uint64,
	) error
}

// DefaultAuctionTicks is how long an auction opened by a passing sale
// round stays open
const DefaultAuctionTicks = 10

type GovernanceConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Database     *database.Database
	Ledger       *ledger.Ledger
	Scheduler    *tick.Scheduler
	Auctions     AuctionOpener
	AuctionTicks uint64
}

type Governance struct {
	config   GovernanceConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database
	ledger   *ledger.Ledger
	metrics  struct {
		roundsOpened   prometheus.Counter
		votesCast      prometheus.Counter
		roundsPassed   prometheus.Counter
		roundsRejected prometheus.Counter
	}
}

func NewGovernance(config GovernanceConfig) *Governance {
	g := &Governance{
		config:   config,
		eventBus: config.EventBus,
		db:       config.Database,
		ledger:   config.Ledger,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		g.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		g.logger = config.Logger
	}
	if g.config.AuctionTicks == 0 {
		g.config.AuctionTicks = DefaultAuctionTicks
	}
	promautoFactory := promauto.With(config.PromRegistry)
	g.metrics.roundsOpened = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_governance_rounds_opened_total",
			Help: "total voting rounds opened",
		},
	)
	g.metrics.votesCast = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_governance_votes_cast_total",
			Help: "total votes cast",
		},
	)
	g.metrics.roundsPassed = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_governance_rounds_passed_total",
			Help: "total voting rounds that passed",
		},
	)
	g.metrics.roundsRejected = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "deed_governance_rounds_rejected_total",
			Help: "total voting rounds that were rejected",
		},
	)
	// The scheduler invokes round resolution when a round's expiry tick
	// arrives
	config.Scheduler.RegisterResolver(
		models.ScheduleKindRound,
		g.resolveEntry,
	)
	return g
}

// ProposeSale opens a sale-proposal round for a subject. The proposer must
// hold subject shares, and the subject must not already have an open sale
// round, an open auction, or a pending sale record.
func (g *Governance) ProposeSale(
	subject uint64,
	proposer string,
	reservePrice uint64,
	votingTicks uint64,
	currentTick uint64,
) (uint64, error) {
	var round *models.Round
	err := g.db.Transaction(func(txn *gorm.DB) error {
		if err := g.checkProposer(txn, subject, proposer); err != nil {
			return err
		}
		auction, err := g.db.GetAuction(subject, txn)
		if err != nil {
			return err
		}
		if auction != nil {
			return ErrAuctionOngoing
		}
		sale, err := g.db.GetSaleRecord(subject, txn)
		if err != nil {
			return err
		}
		if sale != nil {
			return ErrSaleOngoing
		}
		round = &models.Round{
			Subject:  subject,
			Kind:     models.RoundKindSale,
			Proposer: proposer,
			Amount:   reservePrice,
		}
		return g.openRound(txn, round, votingTicks, currentTick)
	})
	if err != nil {
		return 0, err
	}
	g.publishOpened(round)
	return round.ID, nil
}

// ProposeMaintenance opens a maintenance-proposal round. Passing transfers
// amount in asset from the subject's reserve account to the beneficiary.
func (g *Governance) ProposeMaintenance(
	subject uint64,
	proposer string,
	amount uint64,
	asset uint64,
	beneficiary string,
	votingTicks uint64,
	currentTick uint64,
) (uint64, error) {
	if beneficiary == "" {
		return 0, ErrMissingBeneficiary
	}
	var round *models.Round
	err := g.db.Transaction(func(txn *gorm.DB) error {
		if err := g.checkProposer(txn, subject, proposer); err != nil {
			return err
		}
		round = &models.Round{
			Subject:     subject,
			Kind:        models.RoundKindMaintenance,
			Proposer:    proposer,
			Amount:      amount,
			Asset:       asset,
			Beneficiary: beneficiary,
		}
		return g.openRound(txn, round, votingTicks, currentTick)
	})
	if err != nil {
		return 0, err
	}
	g.publishOpened(round)
	return round.ID, nil
}

// ProposeChallenge opens an operator-challenge round. Passing applies a
// strike against the operator. At most one challenge per subject may be
// ongoing.
func (g *Governance) ProposeChallenge(
	subject uint64,
	challenger string,
	operator string,
	votingTicks uint64,
	currentTick uint64,
) (uint64, error) {
	var round *models.Round
	err := g.db.Transaction(func(txn *gorm.DB) error {
		if err := g.checkProposer(txn, subject, challenger); err != nil {
			return err
		}
		round = &models.Round{
			Subject:  subject,
			Kind:     models.RoundKindChallenge,
			Proposer: challenger,
			Operator: operator,
		}
		return g.openRound(txn, round, votingTicks, currentTick)
	})
	if err != nil {
		return 0, err
	}
	g.publishOpened(round)
	return round.ID, nil
}

func (g *Governance) checkProposer(
	txn *gorm.DB,
	subject uint64,
	proposer string,
) error {
	// TotalSupply doubles as the subject-exists check
	if _, err := g.ledger.TotalSupply(txn, subject); err != nil {
		return err
	}
	power, err := g.ledger.VotingPower(txn, subject, proposer)
	if err != nil {
		return err
	}
	if power == 0 {
		return ErrNotShareholder
	}
	return nil
}

func (g *Governance) openRound(
	txn *gorm.DB,
	round *models.Round,
	votingTicks uint64,
	currentTick uint64,
) error {
	if votingTicks == 0 {
		return ErrZeroVotingPeriod
	}
	existing, err := g.db.GetOpenRound(round.Subject, round.Kind, txn)
	if err != nil {
		return err
	}
	if existing != nil {
		if round.Kind == models.RoundKindChallenge {
			return ErrChallengeOngoing
		}
		return ErrRoundOngoing
	}
	round.CreatedTick = currentTick
	round.ExpiryTick = currentTick + votingTicks
	if err := g.db.AddRound(round, txn); err != nil {
		return err
	}
	return g.config.Scheduler.Schedule(
		txn,
		round.ExpiryTick,
		models.ScheduleKindRound,
		round.ID,
	)
}

func (g *Governance) publishOpened(round *models.Round) {
	g.metrics.roundsOpened.Inc()
	g.logger.Info(
		"voting round opened",
		"component", "governance",
		"round_id", round.ID,
		"subject", round.Subject,
		"kind", round.Kind,
		"expiry_tick", round.ExpiryTick,
	)
	if g.eventBus != nil {
		g.eventBus.Publish(
			RoundOpenedEventType,
			event.NewEvent(
				RoundOpenedEventType,
				RoundOpenedEvent{
					RoundID:    round.ID,
					Subject:    round.Subject,
					Kind:       round.Kind,
					ExpiryTick: round.ExpiryTick,
				},
			),
		)
	}
}

// CastVote records a voter's weighted choice on an open round. Re-voting
// replaces the voter's previous record: the old contribution is subtracted
// from the tally and its hold released before the new hold is taken, so a
// changed vote never counts twice.
func (g *Governance) CastVote(
	roundId uint64,
	voter string,
	choice uint8,
	power uint64,
	currentTick uint64,
) error {
	if power == 0 {
		return ErrZeroPower
	}
	if choice != models.ChoiceYes && choice != models.ChoiceNo {
		return ErrInvalidChoice
	}
	var subject uint64
	err := g.db.Transaction(func(txn *gorm.DB) error {
		round, err := g.db.GetRound(roundId, txn)
		if err != nil {
			return err
		}
		if round == nil {
			return ErrUnknownRound
		}
		if currentTick >= round.ExpiryTick {
			return ErrVotingClosed
		}
		subject = round.Subject
		// Available stake is the voter's shareholding minus what their
		// open vote records on other rounds already hold; this round's own
		// hold is reusable because the record is being replaced.
		owned, err := g.ledger.VotingPower(txn, round.Subject, voter)
		if err != nil {
			return err
		}
		heldElsewhere, err := g.db.SumVoterHeldPower(
			round.Subject,
			voter,
			roundId,
			txn,
		)
		if err != nil {
			return err
		}
		available := uint64(0)
		if owned > heldElsewhere {
			available = owned - heldElsewhere
		}
		if power > available {
			return fmt.Errorf(
				"%w: available %d, need %d",
				ledger.ErrInsufficientStake,
				available,
				power,
			)
		}
		tally, err := g.db.GetVoteTally(roundId, txn)
		if err != nil {
			return err
		}
		if tally == nil {
			return ErrUnknownRound
		}
		record, err := g.db.GetVoteRecord(roundId, voter, txn)
		if err != nil {
			return err
		}
		if record == nil {
			record = &models.VoteRecord{
				RoundID: roundId,
				Subject: round.Subject,
				Voter:   voter,
			}
		} else {
			// Back out the superseded vote before counting the new one
			if record.Choice == models.ChoiceYes {
				tally.YesPower -= record.Power
			} else {
				tally.NoPower -= record.Power
			}
		}
		record.Choice = choice
		record.Power = power
		if choice == models.ChoiceYes {
			tally.YesPower += power
		} else {
			tally.NoPower += power
		}
		if err := g.db.UpdateVoteTally(tally, txn); err != nil {
			return err
		}
		return g.db.SetVoteRecord(record, txn)
	})
	if err != nil {
		return err
	}
	g.metrics.votesCast.Inc()
	if g.eventBus != nil {
		g.eventBus.Publish(
			VoteCastEventType,
			event.NewEvent(
				VoteCastEventType,
				VoteCastEvent{
					RoundID: roundId,
					Subject: subject,
					Voter:   voter,
					Choice:  choice,
					Power:   power,
				},
			),
		)
	}
	return nil
}
