package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebet/pool-engine/internal/api"
	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/store"
	"github.com/officebet/pool-engine/internal/wagering"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	router http.Handler
	mu     sync.Mutex
	now    time.Time
}

func newTestEnv(t *testing.T, limiter *api.RateLimiter) *testEnv {
	t.Helper()
	env := &testEnv{now: t0}
	clock := func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.now
	}
	engine := wagering.NewEngine(store.NewMemoryStore(), wagering.DefaultConfig(), wagering.WithClock(clock))

	r := chi.NewRouter()
	r.Route("/api/v1", api.NewHandler(engine, limiter).Routes)
	env.router = r
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(api.AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, username string) model.Account {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/accounts", "", api.RegisterRequest{Username: username})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acct model.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	return acct
}

func (e *testEnv) createBet(t *testing.T, creator string) wagering.BetDetail {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/bets", creator, wagering.BetDraft{
		Title:     "Will the demo ship on Friday?",
		CloseTime: t0.Add(10 * time.Hour),
		Outcomes:  []string{"Yes", "No"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var detail wagering.BetDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	return detail
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["code"]
}

func TestRegisterAndMe(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	assert.Equal(t, int64(1000), alice.Balance)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/me", alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.Username)

	rec = env.do(t, http.MethodPost, "/api/v1/accounts", "", api.RegisterRequest{Username: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/me/movements", alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var movements []model.Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &movements))
	require.Len(t, movements, 1)
	assert.Equal(t, model.MovementInitialGrant, movements[0].Kind)
}

func TestMissingIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/accounts/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, rec))
}

func TestWagerAndResolveFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	bet := env.createBet(t, alice.ID)
	require.Len(t, bet.Outcomes, 2)
	yes, no := bet.Outcomes[0].ID, bet.Outcomes[1].ID
	wagerPath := "/api/v1/bets/" + bet.ID + "/wagers"

	rec := env.do(t, http.MethodPost, wagerPath, alice.ID, api.WagerRequest{OutcomeID: yes, Amount: 100})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, wagerPath, bob.ID, api.WagerRequest{OutcomeID: no, Amount: 49})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, wagerPath, bob.ID, api.WagerRequest{OutcomeID: no, Amount: 5000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient_balance", errorCode(t, rec))

	env.advance(6 * time.Hour)
	rec = env.do(t, http.MethodPost, wagerPath, bob.ID, api.WagerRequest{OutcomeID: no, Amount: 300})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resolvePath := "/api/v1/bets/" + bet.ID + "/resolve"
	rec = env.do(t, http.MethodPost, resolvePath, alice.ID, api.ResolveRequest{WinningOutcomeID: yes})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "bet_not_open", errorCode(t, rec))

	env.advance(5 * time.Hour)

	rec = env.do(t, http.MethodPost, wagerPath, bob.ID, api.WagerRequest{OutcomeID: no, Amount: 50})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, resolvePath, bob.ID, api.ResolveRequest{WinningOutcomeID: yes})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_creator", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, resolvePath, alice.ID, api.ResolveRequest{WinningOutcomeID: yes})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resolved wagering.BetDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, model.StatusResolved, resolved.Status)
	assert.Equal(t, yes, resolved.WinningOutcomeID)

	rec = env.do(t, http.MethodPost, resolvePath, alice.ID, api.ResolveRequest{WinningOutcomeID: no})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var retry map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retry))
	assert.Equal(t, "already_resolved", retry["code"])
	assert.Equal(t, yes, retry["winning_outcome_id"])

	rec = env.do(t, http.MethodGet, "/api/v1/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board []wagering.LeaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board, 2)
	assert.Equal(t, "alice", board[0].Username)
	assert.Equal(t, int64(1300), board[0].Balance)
	assert.Equal(t, int64(700), board[1].Balance)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/me/wagers", bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wagers []wagering.WagerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wagers))
	require.Len(t, wagers, 1)
	require.NotNil(t, wagers[0].Payout)
	assert.Equal(t, int64(0), *wagers[0].Payout)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		body    any
		status  int
		code    string
	}{
		{"unknown bet", http.MethodGet, "/api/v1/bets/nope", "", nil, http.StatusNotFound, "bet_not_found"},
		{"unknown account", http.MethodGet, "/api/v1/accounts/me", "ghost", nil, http.StatusNotFound, "account_not_found"},
		{"bad status filter", http.MethodGet, "/api/v1/bets?status=pending", "", nil, http.StatusBadRequest, "validation"},
		{"bad limit", http.MethodGet, "/api/v1/leaderboard?limit=ten", "", nil, http.StatusBadRequest, "validation"},
		{"one outcome", http.MethodPost, "/api/v1/bets", alice.ID, wagering.BetDraft{
			Title: "Lonely", CloseTime: t0.Add(time.Hour), Outcomes: []string{"Only"},
		}, http.StatusBadRequest, "validation"},
		{"short username", http.MethodPost, "/api/v1/accounts", "", api.RegisterRequest{Username: "al"}, http.StatusBadRequest, "validation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, tc.account, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bets", bytes.NewBufferString("{"))
		req.Header.Set(api.AccountHeader, alice.ID)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListBetsFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	env.createBet(t, alice.ID)

	rec := env.do(t, http.MethodGet, "/api/v1/bets?status=open", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open []wagering.BetSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	require.Len(t, open, 1)
	assert.Equal(t, "alice", open[0].CreatorUsername)

	rec = env.do(t, http.MethodGet, "/api/v1/bets?status=resolved", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, api.NewRateLimiter(0.001, 2))
	alice := env.register(t, "alice")
	bet := env.createBet(t, alice.ID)

	// Burst of two is spent; the third mutating call is rejected.
	rec := env.do(t, http.MethodPost, "/api/v1/bets/"+bet.ID+"/wagers", alice.ID,
		api.WagerRequest{OutcomeID: bet.Outcomes[0].ID, Amount: 50})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/bets/"+bet.ID+"/wagers", alice.ID,
		api.WagerRequest{OutcomeID: bet.Outcomes[0].ID, Amount: 50})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorCode(t, rec))

	// Reads are not throttled.
	rec = env.do(t, http.MethodGet, "/api/v1/accounts/me", alice.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	l := api.NewRateLimiter(0.001, 1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}
