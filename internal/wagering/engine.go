// Package wagering is the pool engine's core: it opens accounts, creates
// bets, admits wagers and resolves bets into payouts.
//
// Every mutating operation on a bet runs under that bet's lock and inside a
// single store transaction, and re-reads the clock after the lock is held.
// A wager admitted a nanosecond before close time is therefore in the pool
// that resolution sees, and one evaluated at close time is rejected.
package wagering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/events"
	"github.com/officebet/pool-engine/internal/ledger"
	"github.com/officebet/pool-engine/internal/lock"
	"github.com/officebet/pool-engine/internal/metrics"
	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/payout"
	"github.com/officebet/pool-engine/internal/store"
)

// Config holds the tunable wagering rules.
type Config struct {
	MinimumWager    int64
	EarlyBetBonus   decimal.Decimal
	InitialBalance  int64
	ZeroStakePolicy payout.Policy
	LockTimeout     time.Duration
}

// DefaultConfig returns the house rules: 50-coin minimum, 1.2× early bonus,
// 1000-coin starting balance, forfeit when nobody backed the winner.
func DefaultConfig() Config {
	return Config{
		MinimumWager:    50,
		EarlyBetBonus:   decimal.RequireFromString("1.2"),
		InitialBalance:  1000,
		ZeroStakePolicy: payout.PolicyForfeit,
		LockTimeout:     5 * time.Second,
	}
}

// Engine implements the wagering operations over a Store.
type Engine struct {
	store     store.Store
	cfg       Config
	locker    lock.Locker
	publisher events.Publisher
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the in-process per-bet locker.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithPublisher sets the sink for committed events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. Without options it uses a LocalLocker with
// cfg.LockTimeout, discards events and reads the wall clock.
func NewEngine(st store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		cfg:       cfg,
		locker:    lock.NewLocalLocker(cfg.LockTimeout),
		publisher: events.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's rules.
func (e *Engine) Config() Config {
	return e.cfg
}

// --- Accounts ---

// OpenAccount creates an account funded with the initial balance. The grant
// is recorded as the account's first movement.
func (e *Engine) OpenAccount(ctx context.Context, username string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < 3 || n > 50 {
		return nil, fmt.Errorf("%w: username must be 3-50 characters", ErrValidation)
	}

	now := e.now()
	acct := &model.Account{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: now,
	}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		m, err := ledger.Credit(ctx, tx, acct.ID, e.cfg.InitialBalance, model.MovementInitialGrant, "", now)
		if err != nil {
			return err
		}
		if m != nil {
			acct.Balance = m.BalanceAfter
		}
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: username %q is taken", ErrConflict, username)
	}
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}

	slog.Info("account opened", "account_id", acct.ID, "username", username, "balance", acct.Balance)
	return acct, nil
}

// --- Bets ---

// BetDraft is the caller-supplied description of a new bet.
type BetDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CloseTime   time.Time `json:"close_time"`
	Outcomes    []string  `json:"outcomes"`
}

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxOutcomeNameLen = 100
	minOutcomes       = 2
	maxOutcomes       = 10

	// MaxBetHorizon bounds how far ahead a bet may close.
	MaxBetHorizon = 5 * 365 * 24 * time.Hour
)

// Validate checks the draft against the bet-creation rules at now.
func (d BetDraft) Validate(now time.Time) error {
	title := strings.TrimSpace(d.Title)
	if n := utf8.RuneCountInString(title); n < 1 || n > maxTitleLen {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrValidation, maxTitleLen)
	}
	if utf8.RuneCountInString(d.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrValidation, maxDescriptionLen)
	}
	if len(d.Outcomes) < minOutcomes || len(d.Outcomes) > maxOutcomes {
		return fmt.Errorf("%w: a bet needs %d-%d outcomes", ErrValidation, minOutcomes, maxOutcomes)
	}
	seen := make(map[string]bool, len(d.Outcomes))
	for i, name := range d.Outcomes {
		name = strings.TrimSpace(name)
		if n := utf8.RuneCountInString(name); n < 1 || n > maxOutcomeNameLen {
			return fmt.Errorf("%w: outcome %d must be 1-%d characters", ErrValidation, i+1, maxOutcomeNameLen)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("%w: duplicate outcome %q", ErrValidation, name)
		}
		seen[key] = true
	}
	if !d.CloseTime.After(now) {
		return fmt.Errorf("%w: close time must be in the future", ErrValidation)
	}
	if d.CloseTime.After(now.Add(MaxBetHorizon)) {
		return fmt.Errorf("%w: close time must be within %s", ErrValidation, MaxBetHorizon)
	}
	return nil
}

// CreateBet validates the draft and persists a bet owned by creatorID. The
// outcome set is fixed from here on.
func (e *Engine) CreateBet(ctx context.Context, creatorID string, draft BetDraft) (*model.Bet, error) {
	now := e.now()
	if err := draft.Validate(now); err != nil {
		return nil, err
	}
	if _, err := e.store.GetAccount(ctx, creatorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, creatorID)
		}
		return nil, fmt.Errorf("load creator: %w", err)
	}

	bet := &model.Bet{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(draft.Title),
		Description: draft.Description,
		CreatorID:   creatorID,
		CreatedAt:   now,
		CloseTime:   draft.CloseTime.UTC(),
	}
	for i, name := range draft.Outcomes {
		bet.Outcomes = append(bet.Outcomes, model.Outcome{
			ID:            uuid.New().String(),
			BetID:         bet.ID,
			Name:          strings.TrimSpace(name),
			Position:      i,
			WeightedTotal: decimal.Zero,
		})
	}

	if err := e.store.CreateBet(ctx, bet); err != nil {
		return nil, fmt.Errorf("create bet: %w", err)
	}
	metrics.BetsCreated.Inc()

	slog.Info("bet created",
		"bet_id", bet.ID,
		"creator", creatorID,
		"outcomes", len(bet.Outcomes),
		"close_time", bet.CloseTime,
	)
	e.publish(ctx, events.Event{Type: events.TypeBetCreated, BetID: bet.ID, AccountID: creatorID, At: now})
	return bet, nil
}

// --- Helpers ---

// withBetLock runs fn while holding the bet's lock.
func (e *Engine) withBetLock(ctx context.Context, betID string, fn func() error) error {
	start := time.Now()
	release, err := e.locker.Lock(ctx, "bet:"+betID)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("bet %s: %w", betID, err)
	}
	defer release()
	return fn()
}

// publish delivers an event after commit. Failures are logged and dropped.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		metrics.EventsDropped.WithLabelValues("publisher").Inc()
		slog.Warn("event publish failed", "type", ev.Type, "bet_id", ev.BetID, "err", err)
	}
}

func poolSnapshot(bet *model.Bet) []events.OutcomePool {
	pools := make([]events.OutcomePool, 0, len(bet.Outcomes))
	for _, o := range bet.Outcomes {
		pools = append(pools, events.OutcomePool{
			OutcomeID:     o.ID,
			PoolTotal:     o.PoolTotal,
			WeightedTotal: o.WeightedTotal.String(),
			Odds:          oddsOf(bet, &o).StringFixed(2),
		})
	}
	return pools
}
