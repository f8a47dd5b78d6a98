package wagering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/lifecycle"
	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/pool"
	"github.com/officebet/pool-engine/internal/store"
)

// Read projections. Status and the early-betting flag are derived from the
// clock on every read.

// BetSummary is one row of the bet list.
type BetSummary struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	CreatorID       string       `json:"creator_id"`
	CreatorUsername string       `json:"creator_username"`
	CreatedAt       time.Time    `json:"created_at"`
	CloseTime       time.Time    `json:"close_time"`
	Status          model.Status `json:"status"`
	TotalPool       int64        `json:"total_pool"`
	OutcomeCount    int          `json:"outcome_count"`
}

// OutcomeView is an outcome with its derived odds.
type OutcomeView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	PoolTotal        int64           `json:"pool_total"`
	WeightedTotal    decimal.Decimal `json:"weighted_total"`
	Odds             decimal.Decimal `json:"odds"`
	PayoutMultiplier decimal.Decimal `json:"payout_multiplier"`
}

// BetDetail is the full view of one bet.
type BetDetail struct {
	BetSummary
	Outcomes         []OutcomeView `json:"outcomes"`
	WinningOutcomeID string        `json:"winning_outcome_id,omitempty"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	IsEarlyBetting   bool          `json:"is_early_betting"`
}

// WagerView is a wager with the names a history list needs.
type WagerView struct {
	ID          string          `json:"id"`
	BetID       string          `json:"bet_id"`
	BetTitle    string          `json:"bet_title"`
	OutcomeID   string          `json:"outcome_id"`
	OutcomeName string          `json:"outcome_name"`
	Amount      int64           `json:"amount"`
	Weight      decimal.Decimal `json:"weight"`
	Payout      *int64          `json:"payout"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LeaderboardEntry ranks one account by balance.
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Balance   int64  `json:"balance"`
}

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// ListBets returns bets newest first, optionally filtered by derived status.
// An empty status lists every bet.
func (e *Engine) ListBets(ctx context.Context, status model.Status) ([]BetSummary, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	bets, err := e.store.ListBets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}

	now := e.now()
	names := make(map[string]string)
	result := make([]BetSummary, 0, len(bets))
	for i := range bets {
		b := &bets[i]
		if status != "" && lifecycle.Status(now, b) != status {
			continue
		}
		sum, err := e.summarize(ctx, now, b, names)
		if err != nil {
			return nil, err
		}
		result = append(result, sum)
	}
	return result, nil
}

// BetDetail returns one bet with per-outcome odds.
func (e *Engine) BetDetail(ctx context.Context, betID string) (*BetDetail, error) {
	b, err := e.store.GetBet(ctx, betID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, betID)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet: %w", err)
	}

	now := e.now()
	sum, err := e.summarize(ctx, now, b, make(map[string]string, 1))
	if err != nil {
		return nil, err
	}

	detail := &BetDetail{
		BetSummary:       sum,
		Outcomes:         make([]OutcomeView, 0, len(b.Outcomes)),
		WinningOutcomeID: b.WinningOutcomeID,
		ResolvedAt:       b.ResolvedAt,
		IsEarlyBetting:   sum.Status == model.StatusOpen && lifecycle.IsEarly(now, b),
	}
	for i := range b.Outcomes {
		o := &b.Outcomes[i]
		odds := oddsOf(b, o)
		detail.Outcomes = append(detail.Outcomes, OutcomeView{
			ID:               o.ID,
			Name:             o.Name,
			PoolTotal:        o.PoolTotal,
			WeightedTotal:    o.WeightedTotal,
			Odds:             odds,
			PayoutMultiplier: odds,
		})
	}
	return detail, nil
}

// AccountWagers returns an account's wagers newest first.
func (e *Engine) AccountWagers(ctx context.Context, accountID string) ([]WagerView, error) {
	if _, err := e.Account(ctx, accountID); err != nil {
		return nil, err
	}

	wagers, err := e.store.GetWagersByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}

	bets := make(map[string]*model.Bet)
	result := make([]WagerView, 0, len(wagers))
	for _, w := range wagers {
		b, ok := bets[w.BetID]
		if !ok {
			b, err = e.store.GetBet(ctx, w.BetID)
			if err != nil {
				return nil, fmt.Errorf("get bet %s: %w", w.BetID, err)
			}
			bets[w.BetID] = b
		}
		view := WagerView{
			ID:        w.ID,
			BetID:     w.BetID,
			BetTitle:  b.Title,
			OutcomeID: w.OutcomeID,
			Amount:    w.Amount,
			Weight:    w.Weight,
			Payout:    w.Payout,
			CreatedAt: w.CreatedAt,
		}
		if o := b.Outcome(w.OutcomeID); o != nil {
			view.OutcomeName = o.Name
		}
		result = append(result, view)
	}
	return result, nil
}

// Leaderboard ranks accounts by balance, ties broken by account ID. A limit
// of zero or less selects the default of 10; larger limits are capped at 100.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	accounts, err := e.store.ListAccountsByBalance(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(accounts))
	for i, a := range accounts {
		entries = append(entries, LeaderboardEntry{
			Rank:      i + 1,
			AccountID: a.ID,
			Username:  a.Username,
			Balance:   a.Balance,
		})
	}
	return entries, nil
}

// Account returns one account.
func (e *Engine) Account(ctx context.Context, accountID string) (*model.Account, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// AccountByUsername looks an account up by its username.
func (e *Engine) AccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	a, err := e.store.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrAccountNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// Movements returns an account's balance history, oldest first.
func (e *Engine) Movements(ctx context.Context, accountID string) ([]model.Movement, error) {
	if _, err := e.Account(ctx, accountID); err != nil {
		return nil, err
	}
	movements, err := e.store.GetMovements(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	if movements == nil {
		movements = []model.Movement{}
	}
	return movements, nil
}

// summarize builds the list row for b. names caches creator usernames.
func (e *Engine) summarize(ctx context.Context, now time.Time, b *model.Bet, names map[string]string) (BetSummary, error) {
	name, ok := names[b.CreatorID]
	if !ok {
		creator, err := e.store.GetAccount(ctx, b.CreatorID)
		if err != nil {
			return BetSummary{}, fmt.Errorf("get creator %s: %w", b.CreatorID, err)
		}
		name = creator.Username
		names[b.CreatorID] = name
	}

	return BetSummary{
		ID:              b.ID,
		Title:           b.Title,
		Description:     b.Description,
		CreatorID:       b.CreatorID,
		CreatorUsername: name,
		CreatedAt:       b.CreatedAt,
		CloseTime:       b.CloseTime,
		Status:          lifecycle.Status(now, b),
		TotalPool:       b.TotalPool,
		OutcomeCount:    len(b.Outcomes),
	}, nil
}

func oddsOf(b *model.Bet, o *model.Outcome) decimal.Decimal {
	return pool.Odds(b.TotalPool, o.WeightedTotal)
}
