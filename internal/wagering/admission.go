package wagering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/officebet/pool-engine/internal/events"
	"github.com/officebet/pool-engine/internal/ledger"
	"github.com/officebet/pool-engine/internal/lifecycle"
	"github.com/officebet/pool-engine/internal/metrics"
	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/pool"
	"github.com/officebet/pool-engine/internal/store"
)

// PlaceWager stakes amount from the account on one outcome of a bet.
//
// Preconditions are checked in order and the first failure is returned:
// ErrBetNotFound, ErrOutcomeNotFound, ErrBetNotOpen, ErrInvalidAmount,
// ErrInsufficientBalance. They are evaluated under the bet lock inside the
// transaction, with the clock read at that point. On success the debit,
// the wager and the pool update commit together.
func (e *Engine) PlaceWager(ctx context.Context, accountID, betID, outcomeID string, amount int64) (*model.Wager, error) {
	start := time.Now()
	wager, bet, err := e.placeWager(ctx, accountID, betID, outcomeID, amount)
	metrics.WagerLatency.Observe(time.Since(start).Seconds())
	metrics.WagersTotal.WithLabelValues(Kind(err)).Inc()
	if err != nil {
		return nil, err
	}
	metrics.StakedCoins.Add(float64(amount))

	slog.Info("wager placed",
		"wager_id", wager.ID,
		"account", accountID,
		"bet_id", betID,
		"outcome_id", outcomeID,
		"amount", amount,
		"weight", wager.Weight.String(),
		"total_pool", bet.TotalPool,
	)

	e.publish(ctx, events.Event{
		Type:      events.TypeWagerPlaced,
		BetID:     betID,
		AccountID: accountID,
		WagerID:   wager.ID,
		OutcomeID: outcomeID,
		Amount:    amount,
		Weight:    wager.Weight.String(),
		TotalPool: bet.TotalPool,
		Pools:     poolSnapshot(bet),
		At:        wager.CreatedAt,
	})
	return wager, nil
}

func (e *Engine) placeWager(ctx context.Context, accountID, betID, outcomeID string, amount int64) (*model.Wager, *model.Bet, error) {
	var (
		wager *model.Wager
		bet   *model.Bet
	)
	err := e.withBetLock(ctx, betID, func() error {
		return e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			b, err := tx.LockBet(ctx, betID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrBetNotFound, betID)
			}
			if err != nil {
				return fmt.Errorf("lock bet: %w", err)
			}
			if b.Outcome(outcomeID) == nil {
				return fmt.Errorf("%w: %s on bet %s", ErrOutcomeNotFound, outcomeID, betID)
			}

			now := e.now()
			if status := lifecycle.Status(now, b); status != model.StatusOpen {
				return fmt.Errorf("%w: bet %s is %s", ErrBetNotOpen, betID, status)
			}
			if amount <= 0 || amount < e.cfg.MinimumWager {
				return fmt.Errorf("%w: %d is below the minimum of %d", ErrInvalidAmount, amount, e.cfg.MinimumWager)
			}

			w := &model.Wager{
				ID:        uuid.New().String(),
				AccountID: accountID,
				BetID:     betID,
				OutcomeID: outcomeID,
				Amount:    amount,
				Weight:    lifecycle.Weight(now, b, e.cfg.EarlyBetBonus),
				CreatedAt: now,
			}

			if _, err := ledger.Debit(ctx, tx, accountID, amount, model.MovementWagerStake, w.ID, now); err != nil {
				switch {
				case errors.Is(err, ledger.ErrInsufficientBalance):
					return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
				case errors.Is(err, ledger.ErrAccountNotFound):
					return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
				}
				return err
			}
			if err := tx.InsertWager(ctx, w); err != nil {
				return fmt.Errorf("insert wager: %w", err)
			}
			if err := pool.Apply(ctx, tx, b, outcomeID, amount, w.Weight); err != nil {
				return err
			}

			wager, bet = w, b
			return nil
		})
	})
	return wager, bet, err
}
