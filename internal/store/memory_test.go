package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebet/pool-engine/internal/model"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReadsReturnCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAccounts(t, s, map[string]int64{"a": 100})
	seedBet(t, s, "bet1", "a")

	acct, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	acct.Balance = 1_000_000

	bet, err := s.GetBet(ctx, "bet1")
	require.NoError(t, err)
	bet.Outcomes[0].PoolTotal = 999

	acct, _ = s.GetAccount(ctx, "a")
	bet, _ = s.GetBet(ctx, "bet1")
	assert.Equal(t, int64(100), acct.Balance)
	assert.Equal(t, int64(0), bet.Outcomes[0].PoolTotal)
}

func TestMemoryStore_PanicRollsBack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAccounts(t, s, map[string]int64{"a": 100})

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.CreditAccount(ctx, "a", 50); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	})

	acct, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance)

	// The write lock was released despite the panic.
	require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "b", Username: "bob", CreatedAt: t0}))
}
