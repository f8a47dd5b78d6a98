// Package pool maintains the per-outcome raw and weighted stake totals of a
// bet and derives display odds from them.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/model"
)

// ErrDrift is returned when stored totals disagree with the wagers placed.
var ErrDrift = errors.New("pool: accounting drift")

// Accumulator is the subset of store.Tx the pool needs.
type Accumulator interface {
	AddToPool(ctx context.Context, betID, outcomeID string, amount int64, weighted decimal.Decimal) error
}

// Apply adds a wager's stake to its outcome and to the bet total, both in
// storage and on the in-memory bet so callers see the post-wager state.
// It must run inside the transaction holding the bet lock.
func Apply(ctx context.Context, tx Accumulator, bet *model.Bet, outcomeID string, amount int64, weight decimal.Decimal) error {
	o := bet.Outcome(outcomeID)
	if o == nil {
		return fmt.Errorf("outcome %s not on bet %s", outcomeID, bet.ID)
	}

	weighted := decimal.NewFromInt(amount).Mul(weight)
	if err := tx.AddToPool(ctx, bet.ID, outcomeID, amount, weighted); err != nil {
		return fmt.Errorf("add to pool: %w", err)
	}

	o.PoolTotal += amount
	o.WeightedTotal = o.WeightedTotal.Add(weighted)
	bet.TotalPool += amount
	return nil
}

// Odds returns totalPool / weightedTotal rounded to two places, or zero when
// nothing is staked on the outcome. A winning unit of weighted stake pays
// this many coins.
func Odds(totalPool int64, weightedTotal decimal.Decimal) decimal.Decimal {
	if !weightedTotal.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(totalPool).Div(weightedTotal).Round(2)
}

// CheckConservation verifies that the bet's stored totals match the wagers
// placed on it: Σ outcome pools equals the bet pool, and each outcome's raw
// and weighted totals equal the sums over its wagers.
func CheckConservation(bet *model.Bet, wagers []model.Wager) error {
	type sums struct {
		raw      int64
		weighted decimal.Decimal
	}
	byOutcome := make(map[string]*sums, len(bet.Outcomes))
	for _, o := range bet.Outcomes {
		byOutcome[o.ID] = &sums{weighted: decimal.Zero}
	}

	for _, w := range wagers {
		s, ok := byOutcome[w.OutcomeID]
		if !ok {
			return fmt.Errorf("%w: wager %s on unknown outcome %s", ErrDrift, w.ID, w.OutcomeID)
		}
		s.raw += w.Amount
		s.weighted = s.weighted.Add(w.Weighted())
	}

	var total int64
	for _, o := range bet.Outcomes {
		s := byOutcome[o.ID]
		if s.raw != o.PoolTotal {
			return fmt.Errorf("%w: outcome %s pool %d, wagers sum to %d", ErrDrift, o.ID, o.PoolTotal, s.raw)
		}
		if !s.weighted.Equal(o.WeightedTotal) {
			return fmt.Errorf("%w: outcome %s weighted %s, wagers sum to %s", ErrDrift, o.ID, o.WeightedTotal, s.weighted)
		}
		total += o.PoolTotal
	}
	if total != bet.TotalPool {
		return fmt.Errorf("%w: bet %s pool %d, outcomes sum to %d", ErrDrift, bet.ID, bet.TotalPool, total)
	}
	return nil
}
