// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), SQLite (embedded,
// single node), Redis (read-through cache over either) and in-memory (for
// testing and development).
//
// Every mutation of balances, pools, wagers or resolution state happens
// inside WithinTx so an admitted wager or a resolution is all-or-nothing.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientBalance is returned by DebitAccount when the balance
	// is lower than the requested amount. No change is applied.
	ErrInsufficientBalance = errors.New("store: insufficient balance")

	// ErrConflict is returned when a uniqueness or write-once rule would be
	// violated (duplicate username, payout already set, bet already resolved).
	ErrConflict = errors.New("store: conflict")

	// ErrOutOfRange is returned when a value cannot be represented by the
	// backing store, such as a timestamp outside SQLite's nanosecond range.
	ErrOutOfRange = errors.New("store: value out of range")
)

// Store is the persistence interface. Reads outside a transaction may be
// served from a cache; reads inside a Tx always hit the primary.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Usernames are unique.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by its unique username.
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// ListAccountsByBalance returns up to limit accounts ordered by balance
	// descending, ties broken by account ID ascending.
	ListAccountsByBalance(ctx context.Context, limit int) ([]model.Account, error)

	// GetMovements returns the audit trail of an account, oldest first.
	GetMovements(ctx context.Context, accountID string) ([]model.Movement, error)

	// --- Bets ---

	// CreateBet persists a bet together with its outcomes.
	CreateBet(ctx context.Context, bet *model.Bet) error

	// GetBet retrieves a bet with its outcomes ordered by position.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// ListBets returns all bets with outcomes, newest first.
	ListBets(ctx context.Context) ([]model.Bet, error)

	// --- Wagers ---

	// GetWagersByAccount returns an account's wagers, newest first.
	GetWagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error)

	// GetWagersByBet returns all wagers on a bet, oldest first.
	GetWagersByBet(ctx context.Context, betID string) ([]model.Wager, error)

	// --- Transactions ---

	// WithinTx runs fn in a single atomic unit. If fn returns an error
	// (or panics) nothing fn did is observable afterwards.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of mutations available inside WithinTx.
type Tx interface {
	// InsertAccount persists a new account. Usernames are unique.
	InsertAccount(ctx context.Context, acct *model.Account) error

	// LockBet loads a bet with its outcomes and holds it exclusively until
	// the transaction ends.
	LockBet(ctx context.Context, betID string) (*model.Bet, error)

	// DebitAccount subtracts amount if and only if the balance covers it and
	// returns the new balance. Returns ErrInsufficientBalance otherwise.
	DebitAccount(ctx context.Context, accountID string, amount int64) (int64, error)

	// CreditAccount adds amount and returns the new balance.
	CreditAccount(ctx context.Context, accountID string, amount int64) (int64, error)

	// AppendMovement appends an audit record.
	AppendMovement(ctx context.Context, m *model.Movement) error

	// InsertWager persists a new wager with a nil payout.
	InsertWager(ctx context.Context, w *model.Wager) error

	// AddToPool adds amount to the outcome's pool total, weighted to its
	// weighted total, and amount to the bet's total pool.
	AddToPool(ctx context.Context, betID, outcomeID string, amount int64, weighted decimal.Decimal) error

	// GetWagersByBet returns all wagers on a bet, oldest first.
	GetWagersByBet(ctx context.Context, betID string) ([]model.Wager, error)

	// SetPayout writes a wager's payout. Returns ErrConflict if it was
	// already set.
	SetPayout(ctx context.Context, wagerID string, payout int64) error

	// MarkResolved records the winning outcome. Returns ErrConflict if the
	// bet is already resolved.
	MarkResolved(ctx context.Context, betID, outcomeID string, at time.Time) error
}
