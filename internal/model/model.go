// Package model defines the core domain types shared across the pool engine.
// Balances and stakes are whole OfficeCoins (int64). Weights and weighted
// totals use shopspring/decimal, never float64 for money-derived values.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a bet. It is derived from timestamps and
// the resolution record on every read and is never persisted.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusResolved Status = "resolved"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusResolved:
		return true
	}
	return false
}

// Account holds an OfficeCoins balance. The balance is never negative.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Bet is a wagering event with a fixed, ordered set of outcomes.
type Bet struct {
	ID               string     `json:"id" db:"id"`
	Title            string     `json:"title" db:"title"`
	Description      string     `json:"description" db:"description"`
	CreatorID        string     `json:"creator_id" db:"creator_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	CloseTime        time.Time  `json:"close_time" db:"close_time"`
	TotalPool        int64      `json:"total_pool" db:"total_pool"`
	WinningOutcomeID string     `json:"winning_outcome_id,omitempty" db:"winning_outcome_id"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Outcomes         []Outcome  `json:"outcomes"`
}

// IsResolved reports whether a winning outcome has been recorded.
func (b *Bet) IsResolved() bool {
	return b.WinningOutcomeID != ""
}

// Outcome returns the outcome with the given ID, or nil if it does not
// belong to this bet.
func (b *Bet) Outcome(id string) *Outcome {
	for i := range b.Outcomes {
		if b.Outcomes[i].ID == id {
			return &b.Outcomes[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate stored state.
func (b *Bet) Clone() *Bet {
	c := *b
	c.Outcomes = append([]Outcome(nil), b.Outcomes...)
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Outcome is one possible result of a bet with its running pool totals.
type Outcome struct {
	ID            string          `json:"id" db:"id"`
	BetID         string          `json:"bet_id" db:"bet_id"`
	Name          string          `json:"name" db:"name"`
	Position      int             `json:"position" db:"position"`
	PoolTotal     int64           `json:"pool_total" db:"pool_total"`         // Σ amount
	WeightedTotal decimal.Decimal `json:"weighted_total" db:"weighted_total"` // Σ amount×weight
}

// Wager is an immutable stake on one outcome. Payout is nil until the bet
// resolves and is written exactly once.
type Wager struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	BetID     string          `json:"bet_id" db:"bet_id"`
	OutcomeID string          `json:"outcome_id" db:"outcome_id"`
	Amount    int64           `json:"amount" db:"amount"`
	Weight    decimal.Decimal `json:"weight" db:"weight"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	Payout    *int64          `json:"payout" db:"payout"`
}

// Weighted returns amount × weight.
func (w *Wager) Weighted() decimal.Decimal {
	return decimal.NewFromInt(w.Amount).Mul(w.Weight)
}

// MovementKind classifies a balance movement.
type MovementKind string

const (
	MovementInitialGrant MovementKind = "initial_grant"
	MovementWagerStake   MovementKind = "wager_stake"
	MovementWagerPayout  MovementKind = "wager_payout"
	MovementWagerRefund  MovementKind = "wager_refund"
)

// Movement is an append-only audit record of one balance change.
// Amount is signed: negative for debits, positive for credits.
type Movement struct {
	ID           string       `json:"id" db:"id"`
	AccountID    string       `json:"account_id" db:"account_id"`
	Kind         MovementKind `json:"kind" db:"kind"`
	Amount       int64        `json:"amount" db:"amount"`
	BalanceAfter int64        `json:"balance_after" db:"balance_after"`
	Ref          string       `json:"ref,omitempty" db:"ref"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}
