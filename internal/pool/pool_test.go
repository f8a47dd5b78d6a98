package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebet/pool-engine/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	calls []decimal.Decimal
	err   error
}

func (r *recorder) AddToPool(_ context.Context, _, _ string, _ int64, weighted decimal.Decimal) error {
	r.calls = append(r.calls, weighted)
	return r.err
}

func newBet() *model.Bet {
	return &model.Bet{
		ID: "bet",
		Outcomes: []model.Outcome{
			{ID: "A", WeightedTotal: decimal.Zero},
			{ID: "B", WeightedTotal: decimal.Zero},
		},
	}
}

func TestApply(t *testing.T) {
	bet := newBet()
	rec := &recorder{}

	require.NoError(t, Apply(context.Background(), rec, bet, "A", 100, d("1.2")))
	require.NoError(t, Apply(context.Background(), rec, bet, "B", 300, d("1")))

	assert.Equal(t, int64(400), bet.TotalPool)
	assert.Equal(t, int64(100), bet.Outcomes[0].PoolTotal)
	assert.True(t, bet.Outcomes[0].WeightedTotal.Equal(d("120")))
	assert.True(t, rec.calls[0].Equal(d("120")))

	wagers := []model.Wager{
		{ID: "w1", OutcomeID: "A", Amount: 100, Weight: d("1.2")},
		{ID: "w2", OutcomeID: "B", Amount: 300, Weight: d("1")},
	}
	assert.NoError(t, CheckConservation(bet, wagers))
}

func TestApply_StoreFailureLeavesBetUntouched(t *testing.T) {
	bet := newBet()
	rec := &recorder{err: errors.New("disk full")}

	assert.Error(t, Apply(context.Background(), rec, bet, "A", 100, d("1")))
	assert.Equal(t, int64(0), bet.TotalPool)
	assert.Equal(t, int64(0), bet.Outcomes[0].PoolTotal)
}

func TestApply_UnknownOutcome(t *testing.T) {
	assert.Error(t, Apply(context.Background(), &recorder{}, newBet(), "Z", 100, d("1")))
}

func TestOdds(t *testing.T) {
	tests := []struct {
		pool     int64
		weighted string
		want     string
	}{
		{400, "120", "3.33"},
		{400, "300", "1.33"},
		{400, "0", "0"},
		{300, "300", "1"},
	}
	for _, tt := range tests {
		got := Odds(tt.pool, d(tt.weighted))
		assert.True(t, got.Equal(d(tt.want)), "Odds(%d, %s) = %s, want %s", tt.pool, tt.weighted, got, tt.want)
	}
}

func TestCheckConservation_DetectsDrift(t *testing.T) {
	bet := newBet()
	bet.Outcomes[0].PoolTotal = 100
	bet.Outcomes[0].WeightedTotal = d("100")
	bet.TotalPool = 100

	ok := []model.Wager{{ID: "w1", OutcomeID: "A", Amount: 100, Weight: d("1")}}
	require.NoError(t, CheckConservation(bet, ok))

	bet.TotalPool = 101
	assert.ErrorIs(t, CheckConservation(bet, ok), ErrDrift)

	bet.TotalPool = 100
	bet.Outcomes[0].WeightedTotal = d("120")
	assert.ErrorIs(t, CheckConservation(bet, ok), ErrDrift)

	bet.Outcomes[0].WeightedTotal = d("100")
	stray := append(ok, model.Wager{ID: "w2", OutcomeID: "Z", Amount: 1, Weight: d("1")})
	assert.ErrorIs(t, CheckConservation(bet, stray), ErrDrift)
}
