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

package governance

import (
	"fmt"

	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/blinklabs-io/deed/internal/smath"
	"gorm.io/gorm"
)

// Turnout threshold tiers: larger requested amounts require more of the
// total eligible weight to participate. Thresholds are ratios expressed as
// numerator/denominator to keep the comparison in integer math.
const (
	tierMidAmount  = 50_000
	tierHighAmount = 250_000
)

// requiredThreshold returns the turnout ratio for a requested amount
func requiredThreshold(amount uint64) (num, den uint64) {
	switch {
	case amount < tierMidAmount:
		return 1, 2
	case amount < tierHighAmount:
		return 3, 4
	default:
		return 9, 10
	}
}

// resolveEntry is the scheduler resolver for round deadlines. It runs in
// its own transaction: tally evaluation, the pass action, and the teardown
// of the round's bookkeeping (which releases all vote stake holds) either
// all commit or all roll back.
func (g *Governance) resolveEntry(entry models.ScheduleEntry) error {
	var resolved RoundResolvedEvent
	var passed bool
	err := g.db.Transaction(func(txn *gorm.DB) error {
		round, err := g.db.GetRound(entry.RefID, txn)
		if err != nil {
			return err
		}
		if round == nil {
			return fmt.Errorf("%w: %d", ErrUnknownRound, entry.RefID)
		}
		tally, err := g.db.GetVoteTally(round.ID, txn)
		if err != nil {
			return err
		}
		if tally == nil {
			return fmt.Errorf("%w: %d has no tally", ErrUnknownRound, round.ID)
		}
		totalWeight, err := g.ledger.TotalSupply(txn, round.Subject)
		if err != nil {
			return err
		}
		passed, err = tallyPasses(tally, totalWeight, round.Amount)
		if err != nil {
			return err
		}
		if passed {
			if err := g.applyPassAction(txn, round, entry.Tick); err != nil {
				return err
			}
		}
		resolved = RoundResolvedEvent{
			RoundID:  round.ID,
			Subject:  round.Subject,
			Kind:     round.Kind,
			YesPower: tally.YesPower,
			NoPower:  tally.NoPower,
		}
		return g.db.DeleteRound(round.ID, txn)
	})
	if err != nil {
		return err
	}
	eventType := RoundRejectedEventType
	if passed {
		eventType = RoundPassedEventType
		g.metrics.roundsPassed.Inc()
	} else {
		g.metrics.roundsRejected.Inc()
	}
	g.logger.Info(
		"voting round resolved",
		"component", "governance",
		"round_id", resolved.RoundID,
		"subject", resolved.Subject,
		"kind", resolved.Kind,
		"yes_power", resolved.YesPower,
		"no_power", resolved.NoPower,
		"passed", passed,
	)
	if g.eventBus != nil {
		g.eventBus.Publish(eventType, event.NewEvent(eventType, resolved))
	}
	return nil
}

// tallyPasses applies the pass rule: strict yes majority plus tiered
// turnout. A lopsided vote with low turnout still fails.
func tallyPasses(
	tally *models.VoteTally,
	totalWeight uint64,
	amount uint64,
) (bool, error) {
	if totalWeight == 0 {
		return false, smath.ErrDivisionByZero
	}
	if tally.YesPower <= tally.NoPower {
		return false, nil
	}
	num, den := requiredThreshold(amount)
	turnout, err := smath.Add(tally.YesPower, tally.NoPower)
	if err != nil {
		return false, err
	}
	// turnout/totalWeight >= num/den, kept in integer math
	lhs, err := smath.Mul(turnout, den)
	if err != nil {
		return false, err
	}
	rhs, err := smath.Mul(totalWeight, num)
	if err != nil {
		return false, err
	}
	return lhs >= rhs, nil
}

func (g *Governance) applyPassAction(
	txn *gorm.DB,
	round *models.Round,
	currentTick uint64,
) error {
	switch round.Kind {
	case models.RoundKindSale:
		return g.config.Auctions.OpenAuction(
			txn,
			round.Subject,
			round.Amount,
			currentTick+g.config.AuctionTicks,
		)
	case models.RoundKindMaintenance:
		subject, err := g.db.GetSubject(round.Subject, txn)
		if err != nil {
			return err
		}
		if subject == nil {
			return fmt.Errorf("maintenance payout: unknown subject %d", round.Subject)
		}
		return g.ledger.Transfer(
			txn,
			round.Asset,
			subject.ReserveAccount,
			round.Beneficiary,
			round.Amount,
		)
	case models.RoundKindChallenge:
		return g.ledger.Strike(txn, round.Operator)
	default:
		return fmt.Errorf("unknown round kind %d", round.Kind)
	}
}
