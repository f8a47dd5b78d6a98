package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebet/pool-engine/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// runStoreSuite exercises the behaviour every Store implementation shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("AccountsAndLeaderboardOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedAccounts(t, s, map[string]int64{"b": 500, "a": 500, "c": 900})

		got, err := s.ListAccountsByBalance(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})

		top, err := s.ListAccountsByBalance(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, top, 1)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "a1", Username: "alice", CreatedAt: t0}))
		err := s.CreateAccount(ctx, &model.Account{ID: "a2", Username: "alice", CreatedAt: t0})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("AccountByUsername", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "a1", Username: "alice", Balance: 300, CreatedAt: t0}))
		require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "b1", Username: "bob", CreatedAt: t0}))

		got, err := s.GetAccountByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ID)
		assert.Equal(t, int64(300), got.Balance)

		_, err = s.GetAccountByUsername(ctx, "Alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("MissingRows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.GetAccount(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetBet(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("BetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedAccounts(t, s, map[string]int64{"a": 100})
		bet := seedBet(t, s, "bet1", "a")

		got, err := s.GetBet(ctx, bet.ID)
		require.NoError(t, err)
		assert.Equal(t, "Will it rain?", got.Title)
		require.Len(t, got.Outcomes, 2)
		assert.Equal(t, "Yes", got.Outcomes[0].Name)
		assert.Equal(t, "No", got.Outcomes[1].Name)
		assert.True(t, got.Outcomes[0].WeightedTotal.IsZero())
		assert.True(t, got.CloseTime.Equal(bet.CloseTime))
		assert.False(t, got.IsResolved())
	})

	t.Run("ConditionalDebit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedAccounts(t, s, map[string]int64{"a": 100})

		err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.DebitAccount(ctx, "a", 101)
			return err
		})
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		var after int64
		err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			after, err = tx.DebitAccount(ctx, "a", 100)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), after)

		err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.DebitAccount(ctx, "ghost", 1)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RollbackLeavesNoPartialState", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedAccounts(t, s, map[string]int64{"a": 100})
		bet := seedBet(t, s, "bet1", "a")
		boom := errors.New("boom")

		err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockBet(ctx, bet.ID); err != nil {
				return err
			}
			if _, err := tx.DebitAccount(ctx, "a", 60); err != nil {
				return err
			}
			if err := tx.AppendMovement(ctx, &model.Movement{ID: "m1", AccountID: "a", Kind: model.MovementWagerStake, Amount: -60, BalanceAfter: 40, CreatedAt: t0}); err != nil {
				return err
			}
			if err := tx.InsertWager(ctx, &model.Wager{ID: "w1", AccountID: "a", BetID: bet.ID, OutcomeID: "bet1-yes", Amount: 60, Weight: decimal.NewFromInt(1), CreatedAt: t0}); err != nil {
				return err
			}
			if err := tx.AddToPool(ctx, bet.ID, "bet1-yes", 60, decimal.NewFromInt(60)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		acct, err := s.GetAccount(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(100), acct.Balance)

		got, err := s.GetBet(ctx, bet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.TotalPool)
		assert.Equal(t, int64(0), got.Outcomes[0].PoolTotal)
		assert.True(t, got.Outcomes[0].WeightedTotal.IsZero())

		wagers, err := s.GetWagersByBet(ctx, bet.ID)
		require.NoError(t, err)
		assert.Empty(t, wagers)

		movements, err := s.GetMovements(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, movements)
	})

	t.Run("PoolsAndWagerOrdering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedAccounts(t, s, map[string]int64{"a": 1000})
		bet := seedBet(t, s, "bet1", "a")

		for i, w := range []struct {
			id, outcome string
			amount      int64
			weight      string
		}{
			{"w1", "bet1-yes", 100, "1.2"},
			{"w2", "bet1-no", 50, "1"},
			{"w3", "bet1-yes", 70, "1"},
		} {
			wg := &model.Wager{ID: w.id, AccountID: "a", BetID: bet.ID, OutcomeID: w.outcome, Amount: w.amount,
				Weight: decimal.RequireFromString(w.weight), CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				if err := tx.InsertWager(ctx, wg); err != nil {
					return err
				}
				return tx.AddToPool(ctx, bet.ID, wg.OutcomeID, wg.Amount, wg.Weighted())
			}))
		}

		got, err := s.GetBet(ctx, bet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(220), got.TotalPool)
		assert.Equal(t, int64(170), got.Outcomes[0].PoolTotal)
		assert.True(t, got.Outcomes[0].WeightedTotal.Equal(decimal.NewFromInt(190)), "got %s", got.Outcomes[0].WeightedTotal)
		assert.Equal(t, int64(50), got.Outcomes[1].PoolTotal)

		byBet, err := s.GetWagersByBet(ctx, bet.ID)
		require.NoError(t, err)
		require.Len(t, byBet, 3)
		assert.Equal(t, "w1", byBet[0].ID)
		assert.True(t, byBet[0].Weight.Equal(decimal.RequireFromString("1.2")))
		assert.Nil(t, byBet[0].Payout)

		byAcct, err := s.GetWagersByAccount(ctx, "a")
		require.NoError(t, err)
		require.Len(t, byAcct, 3)
		assert.Equal(t, "w3", byAcct[0].ID)
	})

	t.Run("WriteOnceResolution", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedAccounts(t, s, map[string]int64{"a": 1000})
		bet := seedBet(t, s, "bet1", "a")
		wg := &model.Wager{ID: "w1", AccountID: "a", BetID: bet.ID, OutcomeID: "bet1-yes", Amount: 100,
			Weight: decimal.NewFromInt(1), CreatedAt: t0}

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.InsertWager(ctx, wg); err != nil {
				return err
			}
			if err := tx.SetPayout(ctx, wg.ID, 100); err != nil {
				return err
			}
			return tx.MarkResolved(ctx, bet.ID, "bet1-yes", t0.Add(time.Hour))
		}))

		err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.SetPayout(ctx, wg.ID, 5)
		})
		assert.ErrorIs(t, err, ErrConflict)
		err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.MarkResolved(ctx, bet.ID, "bet1-no", t0.Add(2*time.Hour))
		})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := s.GetBet(ctx, bet.ID)
		require.NoError(t, err)
		assert.Equal(t, "bet1-yes", got.WinningOutcomeID)
		require.NotNil(t, got.ResolvedAt)

		wagers, err := s.GetWagersByBet(ctx, bet.ID)
		require.NoError(t, err)
		require.NotNil(t, wagers[0].Payout)
		assert.Equal(t, int64(100), *wagers[0].Payout)
	})

	t.Run("ListBetsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedAccounts(t, s, map[string]int64{"a": 0})
		seedBet(t, s, "old", "a")
		newer := &model.Bet{ID: "new", Title: "Later", CreatorID: "a", CreatedAt: t0.Add(time.Hour),
			CloseTime: t0.Add(48 * time.Hour), Outcomes: []model.Outcome{
				{ID: "new-x", BetID: "new", Name: "X", Position: 0, WeightedTotal: decimal.Zero},
				{ID: "new-y", BetID: "new", Name: "Y", Position: 1, WeightedTotal: decimal.Zero},
			}}
		require.NoError(t, s.CreateBet(ctx, newer))

		bets, err := s.ListBets(ctx)
		require.NoError(t, err)
		require.Len(t, bets, 2)
		assert.Equal(t, "new", bets[0].ID)
		assert.Len(t, bets[0].Outcomes, 2)
		assert.Len(t, bets[1].Outcomes, 2)
	})
}

func seedAccounts(t *testing.T, s Store, balances map[string]int64) {
	t.Helper()
	for id, bal := range balances {
		require.NoError(t, s.CreateAccount(context.Background(),
			&model.Account{ID: id, Username: "user-" + id, Balance: bal, CreatedAt: t0}))
	}
}

func seedBet(t *testing.T, s Store, id, creator string) *model.Bet {
	t.Helper()
	bet := &model.Bet{
		ID:        id,
		Title:     "Will it rain?",
		CreatorID: creator,
		CreatedAt: t0,
		CloseTime: t0.Add(24 * time.Hour),
		Outcomes: []model.Outcome{
			{ID: id + "-yes", BetID: id, Name: "Yes", Position: 0, WeightedTotal: decimal.Zero},
			{ID: id + "-no", BetID: id, Name: "No", Position: 1, WeightedTotal: decimal.Zero},
		},
	}
	require.NoError(t, s.CreateBet(context.Background(), bet))
	return bet
}
