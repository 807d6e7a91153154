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

package settlement

import (
	"fmt"

	"github.com/blinklabs-io/deed/database/models"
	"github.com/blinklabs-io/deed/event"
	"github.com/blinklabs-io/deed/internal/smath"
	"github.com/blinklabs-io/deed/ledger"
	"gorm.io/gorm"
)

// Claim pays a former owner their pro-rata share of a finalized sale's
// proceeds and burns their ownership tokens. The payout drains the
// preferred asset's pool first, then the remaining pools in ascending
// asset order. The last claimant receives whatever remains in the pools,
// so rounding dust never strands in escrow, and their claim retires the
// subject.
func (s *Settlement) Claim(
	subject uint64,
	claimant string,
	preferredAsset uint64,
) error {
	var paid ProceedsClaimedEvent
	var retired bool
	err := s.db.Transaction(func(txn *gorm.DB) error {
		sale, err := s.db.GetSaleRecord(subject, txn)
		if err != nil {
			return err
		}
		if sale == nil {
			return fmt.Errorf("%w: %d", ErrNoPendingSale, subject)
		}
		if sale.State != models.SaleStateFinalized {
			return ErrWrongSaleState
		}
		shares, err := s.ledger.VotingPower(txn, subject, claimant)
		if err != nil {
			return err
		}
		if shares == 0 {
			return fmt.Errorf("%w: %s", ErrNoShares, claimant)
		}
		// Shares backing votes on open rounds stay with the voter until
		// those rounds resolve
		held, err := s.db.SumVoterHeldPower(subject, claimant, 0, txn)
		if err != nil {
			return err
		}
		if held > 0 {
			return fmt.Errorf("%w: %s", ErrVotesOutstanding, claimant)
		}
		pools, err := s.db.GetFundPools(subject, txn)
		if err != nil {
			return err
		}
		var payout uint64
		if shares == sale.RemainingShares {
			// Last claimant takes the pools as they stand
			for _, pool := range pools {
				total, err := smath.Add(payout, pool.Amount)
				if err != nil {
					return err
				}
				payout = total
			}
		} else {
			scaled, err := smath.Mul(sale.NetProceeds, shares)
			if err != nil {
				return err
			}
			payout, err = smath.Div(scaled, sale.TotalShares)
			if err != nil {
				return err
			}
		}
		if err := s.drainPools(
			txn,
			subject,
			claimant,
			pools,
			preferredAsset,
			payout,
		); err != nil {
			return err
		}
		if err := s.ledger.BurnShares(txn, subject, claimant, shares); err != nil {
			return err
		}
		remaining, err := smath.Sub(sale.RemainingShares, shares)
		if err != nil {
			return err
		}
		sale.RemainingShares = remaining
		paid = ProceedsClaimedEvent{
			Subject:  subject,
			Claimant: claimant,
			Shares:   shares,
			Payout:   payout,
		}
		if remaining == 0 {
			retired = true
			return s.retireSubject(txn, subject)
		}
		return s.db.UpdateSaleRecord(sale, txn)
	})
	if err != nil {
		return err
	}
	s.metrics.claimsPaid.Inc()
	s.logger.Info(
		"proceeds claimed",
		"component", "settlement",
		"subject", subject,
		"claimant", claimant,
		"shares", paid.Shares,
		"payout", paid.Payout,
	)
	if s.eventBus != nil {
		s.eventBus.Publish(
			ProceedsClaimedEventType,
			event.NewEvent(ProceedsClaimedEventType, paid),
		)
	}
	if retired {
		s.metrics.subjectsRetired.Inc()
		s.logger.Info(
			"subject retired",
			"component", "settlement",
			"subject", subject,
		)
		if s.eventBus != nil {
			s.eventBus.Publish(
				SubjectRetiredEventType,
				event.NewEvent(
					SubjectRetiredEventType,
					SubjectRetiredEvent{Subject: subject},
				),
			)
		}
	}
	return nil
}

// drainPools pays out of the subject's escrow, taking from the preferred
// asset's pool first and then the rest in the order given (ascending
// asset)
func (s *Settlement) drainPools(
	txn *gorm.DB,
	subject uint64,
	claimant string,
	pools []models.FundPool,
	preferredAsset uint64,
	payout uint64,
) error {
	ordered := make([]*models.FundPool, 0, len(pools))
	for i := range pools {
		if pools[i].Asset == preferredAsset {
			ordered = append(ordered, &pools[i])
		}
	}
	for i := range pools {
		if pools[i].Asset != preferredAsset {
			ordered = append(ordered, &pools[i])
		}
	}
	escrow := ledger.EscrowAccount(subject)
	remaining := payout
	for _, pool := range ordered {
		if remaining == 0 {
			break
		}
		take := pool.Amount
		if take > remaining {
			take = remaining
		}
		if err := s.ledger.Transfer(
			txn,
			pool.Asset,
			escrow,
			claimant,
			take,
		); err != nil {
			return err
		}
		pool.Amount -= take
		if err := s.db.UpdateFundPool(pool, txn); err != nil {
			return err
		}
		remaining -= take
	}
	if remaining > 0 {
		return fmt.Errorf(
			"fund pools for subject %d short by %d",
			subject,
			remaining,
		)
	}
	return nil
}

// retireSubject removes every trace of a fully distributed subject. Open
// rounds at this point can carry no votes (claimants with open vote records
// are rejected), so they are dropped along with their pending deadlines.
func (s *Settlement) retireSubject(txn *gorm.DB, subject uint64) error {
	rounds, err := s.db.GetRoundsBySubject(subject, txn)
	if err != nil {
		return err
	}
	for _, round := range rounds {
		if err := s.db.DeleteRound(round.ID, txn); err != nil {
			return err
		}
		if err := s.db.DeleteScheduleEntry(
			models.ScheduleKindRound,
			round.ID,
			txn,
		); err != nil {
			return err
		}
	}
	if err := s.db.DeleteSaleRecord(subject, txn); err != nil {
		return err
	}
	if err := s.db.DeleteFundPools(subject, txn); err != nil {
		return err
	}
	if err := s.db.DeleteShareholdings(subject, txn); err != nil {
		return err
	}
	return s.db.DeleteSubject(subject, txn)
}
