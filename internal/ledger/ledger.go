// Package ledger applies balance changes inside a store transaction and
// records each one as a movement. It never reads movements back; they exist
// for audit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/store"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrNegativeAmount is returned for a debit or credit below zero.
	ErrNegativeAmount = errors.New("ledger: amount must not be negative")
)

// Accounts is the subset of store.Tx the ledger needs.
type Accounts interface {
	DebitAccount(ctx context.Context, accountID string, amount int64) (int64, error)
	CreditAccount(ctx context.Context, accountID string, amount int64) (int64, error)
	AppendMovement(ctx context.Context, m *model.Movement) error
}

// Debit removes amount from the account if and only if the balance covers
// it. The check and the update are one conditional write, so two concurrent
// debits can never both pass against the same coins.
func Debit(ctx context.Context, tx Accounts, accountID string, amount int64, kind model.MovementKind, ref string, at time.Time) (*model.Movement, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}

	balance, err := tx.DebitAccount(ctx, accountID, amount)
	switch {
	case errors.Is(err, store.ErrInsufficientBalance):
		return nil, fmt.Errorf("%w: account %s needs %d", ErrInsufficientBalance, accountID, amount)
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	case err != nil:
		return nil, fmt.Errorf("debit %s: %w", accountID, err)
	}

	return record(ctx, tx, accountID, kind, -amount, balance, ref, at)
}

// Credit adds amount to the account. A zero credit is a no-op and records
// no movement.
func Credit(ctx context.Context, tx Accounts, accountID string, amount int64, kind model.MovementKind, ref string, at time.Time) (*model.Movement, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}
	if amount == 0 {
		return nil, nil
	}

	balance, err := tx.CreditAccount(ctx, accountID, amount)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", accountID, err)
	}

	return record(ctx, tx, accountID, kind, amount, balance, ref, at)
}

func record(ctx context.Context, tx Accounts, accountID string, kind model.MovementKind, amount, balance int64, ref string, at time.Time) (*model.Movement, error) {
	m := &model.Movement{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balance,
		Ref:          ref,
		CreatedAt:    at,
	}
	if err := tx.AppendMovement(ctx, m); err != nil {
		return nil, fmt.Errorf("append movement: %w", err)
	}
	return m, nil
}
