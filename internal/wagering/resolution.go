package wagering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/officebet/pool-engine/internal/events"
	"github.com/officebet/pool-engine/internal/ledger"
	"github.com/officebet/pool-engine/internal/lifecycle"
	"github.com/officebet/pool-engine/internal/metrics"
	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/payout"
	"github.com/officebet/pool-engine/internal/pool"
	"github.com/officebet/pool-engine/internal/store"
)

// Resolve declares the winning outcome of a closed bet and pays out the pool.
//
// Only the creator may resolve, and only once the bet has closed. Every
// wager's payout is written once, winners are credited in account-id order
// and the bet is marked resolved, all in one transaction.
//
// Resolving an already resolved bet is not an error the caller needs to undo:
// it returns the stored bet together with ErrAlreadyResolved and changes
// nothing, so a retried request is harmless.
func (e *Engine) Resolve(ctx context.Context, betID, actingAccountID, winningOutcomeID string) (*model.Bet, error) {
	bet, res, err := e.resolve(ctx, betID, actingAccountID, winningOutcomeID)
	metrics.ResolutionsTotal.WithLabelValues(Kind(err)).Inc()
	if err != nil {
		return bet, err
	}

	metrics.PaidCoins.Add(float64(res.Paid))
	metrics.DustCoins.Add(float64(res.Dust))
	metrics.ForfeitedCoins.Add(float64(res.Forfeited))

	slog.Info("bet resolved",
		"bet_id", betID,
		"winning_outcome_id", winningOutcomeID,
		"total_pool", bet.TotalPool,
		"winners", res.Winners,
		"paid", res.Paid,
		"dust", res.Dust,
		"forfeited", res.Forfeited,
		"refunded", res.Refunded,
	)

	e.publish(ctx, events.Event{
		Type:      events.TypeBetResolved,
		BetID:     betID,
		AccountID: actingAccountID,
		OutcomeID: winningOutcomeID,
		TotalPool: bet.TotalPool,
		Pools:     poolSnapshot(bet),
		Paid:      res.Paid,
		At:        *bet.ResolvedAt,
	})
	return bet, nil
}

func (e *Engine) resolve(ctx context.Context, betID, actingAccountID, winningOutcomeID string) (*model.Bet, *payout.Result, error) {
	var (
		bet *model.Bet
		res *payout.Result
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
			if b.CreatorID != actingAccountID {
				return fmt.Errorf("%w: %s", ErrNotCreator, betID)
			}

			now := e.now()
			switch lifecycle.Status(now, b) {
			case model.StatusOpen:
				return fmt.Errorf("%w: bet %s closes at %s", ErrBetNotOpen, betID, b.CloseTime)
			case model.StatusResolved:
				bet = b
				return fmt.Errorf("%w: %s", ErrAlreadyResolved, betID)
			}

			winning := b.Outcome(winningOutcomeID)
			if winning == nil {
				return fmt.Errorf("%w: %s on bet %s", ErrOutcomeNotFound, winningOutcomeID, betID)
			}

			wagers, err := tx.GetWagersByBet(ctx, betID)
			if err != nil {
				return fmt.Errorf("load wagers: %w", err)
			}
			if err := pool.CheckConservation(b, wagers); err != nil {
				return fmt.Errorf("resolve %s: %w", betID, err)
			}

			r, err := payout.Distribute(wagers, winning, b.TotalPool, e.cfg.ZeroStakePolicy)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", betID, err)
			}

			kind := model.MovementWagerPayout
			if r.Refunded {
				kind = model.MovementWagerRefund
			}

			// Credits go out in account-id order so concurrent resolutions of
			// different bets touch account rows in the same order.
			sort.SliceStable(wagers, func(i, j int) bool {
				if wagers[i].AccountID != wagers[j].AccountID {
					return wagers[i].AccountID < wagers[j].AccountID
				}
				return wagers[i].ID < wagers[j].ID
			})
			for _, w := range wagers {
				amt := r.Payouts[w.ID]
				if err := tx.SetPayout(ctx, w.ID, amt); err != nil {
					return fmt.Errorf("set payout: %w", err)
				}
				if _, err := ledger.Credit(ctx, tx, w.AccountID, amt, kind, w.ID, now); err != nil {
					return err
				}
			}

			if err := tx.MarkResolved(ctx, betID, winningOutcomeID, now); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("%w: %s", ErrAlreadyResolved, betID)
				}
				return fmt.Errorf("mark resolved: %w", err)
			}

			b.WinningOutcomeID = winningOutcomeID
			b.ResolvedAt = &now
			bet, res = b, r
			return nil
		})
	})
	if errors.Is(err, ErrAlreadyResolved) && bet == nil {
		// Lost a race past the status check; report the stored result.
		if stored, gerr := e.store.GetBet(ctx, betID); gerr == nil {
			bet = stored
		}
	}
	if err != nil && !errors.Is(err, ErrAlreadyResolved) {
		bet = nil
	}
	return bet, res, err
}
