// Package payout implements pari-mutuel settlement: every stake on a bet is
// pooled and the winners split the whole pool in proportion to their
// weighted stake on the winning outcome.
//
// It is stateless: wagers and pool totals are passed as arguments. All
// ratios are computed with shopspring/decimal and floored with an exact
// integer quotient, so no float64 rounding can push a payout up by a coin.
package payout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/model"
)

// Policy decides what happens when nobody staked on the winning outcome.
type Policy string

const (
	// PolicyForfeit pays every wager 0; the pool is retained.
	PolicyForfeit Policy = "forfeit"
	// PolicyRefund pays every wager back its own stake.
	PolicyRefund Policy = "refund"
)

var (
	// ErrUnknownPolicy is returned by ParsePolicy for unrecognized names.
	ErrUnknownPolicy = errors.New("payout: unknown zero-stake policy")

	// ErrOverdrawn is returned when computed payouts would exceed the pool.
	// It indicates pool accounting drift and must abort settlement.
	ErrOverdrawn = errors.New("payout: payouts exceed total pool")

	// ErrOutcomeMismatch is returned when the winning outcome is missing.
	ErrOutcomeMismatch = errors.New("payout: winning outcome required")
)

// ParsePolicy parses a policy name. The empty string selects PolicyForfeit.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyForfeit:
		return PolicyForfeit, nil
	case PolicyRefund:
		return PolicyRefund, nil
	}
	return "", fmt.Errorf("%w: %q (expected forfeit or refund)", ErrUnknownPolicy, s)
}

// Result is the settlement of one bet.
type Result struct {
	// Payouts maps every wager ID on the bet to its payout (0 for losers).
	Payouts map[string]int64

	Paid      int64 // Σ payouts
	Dust      int64 // floor-division remainder kept by the house
	Forfeited int64 // pool retained because nobody backed the winner
	Winners   int   // wagers on the winning outcome
	Refunded  bool  // PolicyRefund was applied
}

// Distribute settles wagers against the winning outcome.
//
// With W = winning.WeightedTotal and P = totalPool, each winning wager gets
//
//	floor(amount × weight × P / W)
//
// and every other wager gets 0. The remainder P - Σ payout is not
// redistributed; it is always smaller than the number of winning wagers.
// When W is zero the policy decides between forfeit and refund.
func Distribute(wagers []model.Wager, winning *model.Outcome, totalPool int64, policy Policy) (*Result, error) {
	if winning == nil {
		return nil, ErrOutcomeMismatch
	}

	res := &Result{Payouts: make(map[string]int64, len(wagers))}
	w := winning.WeightedTotal

	if !w.IsPositive() {
		for _, wg := range wagers {
			var amt int64
			if policy == PolicyRefund {
				amt = wg.Amount
			}
			res.Payouts[wg.ID] = amt
			res.Paid += amt
		}
		if policy == PolicyRefund {
			res.Refunded = true
		} else {
			res.Forfeited = totalPool
		}
		return res, checkBound(res, totalPool)
	}

	pool := decimal.NewFromInt(totalPool)
	for _, wg := range wagers {
		if wg.OutcomeID != winning.ID {
			res.Payouts[wg.ID] = 0
			continue
		}
		share := Share(wg.Amount, wg.Weight, pool, w)
		res.Payouts[wg.ID] = share
		res.Paid += share
		res.Winners++
	}
	res.Dust = totalPool - res.Paid

	return res, checkBound(res, totalPool)
}

// Share returns floor(amount × weight × pool / weighted) for a positive
// weighted total. The quotient is exact: QuoRem at precision 0 yields the
// integer part without intermediate rounding.
func Share(amount int64, weight, pool, weighted decimal.Decimal) int64 {
	num := decimal.NewFromInt(amount).Mul(weight).Mul(pool)
	q, _ := num.QuoRem(weighted, 0)
	return q.IntPart()
}

func checkBound(res *Result, totalPool int64) error {
	if res.Paid > totalPool {
		return fmt.Errorf("%w: paid %d of %d", ErrOverdrawn, res.Paid, totalPool)
	}
	return nil
}
