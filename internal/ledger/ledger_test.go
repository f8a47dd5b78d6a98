package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/store"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, balance int64) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAccount(context.Background(),
		&model.Account{ID: "alice", Username: "alice", Balance: balance, CreatedAt: now}))
	return s
}

func TestDebit_RecordsMovement(t *testing.T) {
	s := newStore(t, 1000)
	ctx := context.Background()

	var m *model.Movement
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		m, err = Debit(ctx, tx, "alice", 300, model.MovementWagerStake, "w1", now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-300), m.Amount)
	assert.Equal(t, int64(700), m.BalanceAfter)
	assert.Equal(t, "w1", m.Ref)

	movements, err := s.GetMovements(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, model.MovementWagerStake, movements[0].Kind)
}

func TestDebit_Insufficient(t *testing.T) {
	s := newStore(t, 40)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := Debit(ctx, tx, "alice", 50, model.MovementWagerStake, "w1", now)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	acct, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acct.Balance)
}

func TestDebit_UnknownAccount(t *testing.T) {
	s := newStore(t, 40)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := Debit(ctx, tx, "mallory", 1, model.MovementWagerStake, "", now)
		return err
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	s := newStore(t, 100)
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := Debit(ctx, tx, "alice", 60, model.MovementWagerStake, "", now)
				return err
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	acct, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acct.Balance)
}

func TestCredit(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := Credit(ctx, tx, "alice", 0, model.MovementWagerPayout, "w1", now)
		assert.Nil(t, m, "zero credit records nothing")
		if err != nil {
			return err
		}
		m, err = Credit(ctx, tx, "alice", 250, model.MovementWagerPayout, "w2", now)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(250), m.BalanceAfter)
		return nil
	})
	require.NoError(t, err)

	movements, err := s.GetMovements(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestCredit_Negative(t *testing.T) {
	s := newStore(t, 0)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := Credit(ctx, tx, "alice", -1, model.MovementWagerPayout, "", now)
		return err
	})
	assert.ErrorIs(t, err, ErrNegativeAmount)
}
