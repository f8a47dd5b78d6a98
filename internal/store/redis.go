package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/model"
)

// fillScript caches a value only if the key's generation still matches the
// one read before the primary lookup. A commit that lands in between bumps
// the generation, so a reader holding the old row can't reinstall it.
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or ""
if gen == ARGV[2] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
	return 1
end
return 0
`)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache for bets and accounts. Transactions run against the
// primary; every bet and account a transaction touches is invalidated once
// it commits.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store. A
// non-positive ttl selects 30s.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache or invalidate) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	key := accountKey(a.ID)
	gen := s.generation(ctx, key)
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.fill(ctx, key, gen, a)
	return nil
}

func (s *CachedStore) CreateBet(ctx context.Context, b *model.Bet) error {
	key := betKey(b.ID)
	gen := s.generation(ctx, key)
	if err := s.primary.CreateBet(ctx, b); err != nil {
		return err
	}
	s.fill(ctx, key, gen, b)
	return nil
}

func (s *CachedStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var touched []string
	err := s.primary.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		touched = touched[:0]
		return fn(ctx, &trackingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	key := accountKey(id)
	var a model.Account
	if s.lookup(ctx, key, &a) {
		return &a, nil
	}

	// Cache miss: read from primary.
	gen := s.generation(ctx, key)
	acct, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, gen, acct)
	return acct, nil
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	key := betKey(id)
	var b model.Bet
	if s.lookup(ctx, key, &b) {
		return &b, nil
	}

	gen := s.generation(ctx, key)
	bet, err := s.primary.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, gen, bet)
	return bet, nil
}

// --- Passthrough (not cached) ---

// GetAccountByUsername bypasses the cache; it is only used by tooling.
func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.primary.GetAccountByUsername(ctx, username)
}

func (s *CachedStore) ListAccountsByBalance(ctx context.Context, limit int) ([]model.Account, error) {
	return s.primary.ListAccountsByBalance(ctx, limit)
}

func (s *CachedStore) GetMovements(ctx context.Context, accountID string) ([]model.Movement, error) {
	return s.primary.GetMovements(ctx, accountID)
}

func (s *CachedStore) ListBets(ctx context.Context) ([]model.Bet, error) {
	return s.primary.ListBets(ctx)
}

func (s *CachedStore) GetWagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	return s.primary.GetWagersByAccount(ctx, accountID)
}

func (s *CachedStore) GetWagersByBet(ctx context.Context, betID string) ([]model.Wager, error) {
	return s.primary.GetWagersByBet(ctx, betID)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// generation returns the key's current generation, "" if never bumped.
// Call it before reading the primary.
func (s *CachedStore) generation(ctx context.Context, key string) string {
	gen, err := s.rdb.Get(ctx, genKey(key)).Result()
	if err != nil {
		return ""
	}
	return gen
}

// fill caches v under key unless a commit bumped the generation since gen
// was read.
func (s *CachedStore) fill(ctx context.Context, key, gen string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = fillScript.Run(ctx, s.rdb, []string{key, genKey(key)}, data, gen, s.ttl.Milliseconds()).Err()
	if err != nil {
		slog.Warn("cache fill failed", "key", key, "err", err)
	}
}

// invalidate bumps each key's generation and drops the cached value in one
// MULTI. A stale fill can only land before the bump, so the DEL removes it.
func (s *CachedStore) invalidate(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	genTTL := 10 * s.ttl
	if genTTL < time.Minute {
		genTTL = time.Minute
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Incr(ctx, genKey(k))
			p.Expire(ctx, genKey(k), genTTL)
		}
		p.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

// trackingTx records the cache keys of every row a transaction mutates.
type trackingTx struct {
	Tx
	touched *[]string
}

func (t *trackingTx) touch(key string) {
	*t.touched = append(*t.touched, key)
}

func (t *trackingTx) DebitAccount(ctx context.Context, accountID string, amount int64) (int64, error) {
	t.touch(accountKey(accountID))
	return t.Tx.DebitAccount(ctx, accountID, amount)
}

func (t *trackingTx) CreditAccount(ctx context.Context, accountID string, amount int64) (int64, error) {
	t.touch(accountKey(accountID))
	return t.Tx.CreditAccount(ctx, accountID, amount)
}

func (t *trackingTx) AddToPool(ctx context.Context, betID, outcomeID string, amount int64, weighted decimal.Decimal) error {
	t.touch(betKey(betID))
	return t.Tx.AddToPool(ctx, betID, outcomeID, amount, weighted)
}

func (t *trackingTx) MarkResolved(ctx context.Context, betID, outcomeID string, at time.Time) error {
	t.touch(betKey(betID))
	return t.Tx.MarkResolved(ctx, betID, outcomeID, at)
}

func betKey(id string) string     { return fmt.Sprintf("bet:%s", id) }
func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
func genKey(key string) string    { return "gen:" + key }
