package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction holds the write lock for its whole duration and keeps an
// undo log; on failure the log is replayed in reverse.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	bets      map[string]*model.Bet
	wagers    map[string]*model.Wager
	wagerSeq  []string // insertion order
	movements []model.Movement
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		bets:     make(map[string]*model.Bet),
		wagers:   make(map[string]*model.Wager),
	}
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAccount(a)
}

// insertAccount must be called with s.mu held.
func (s *MemoryStore) insertAccount(a *model.Account) error {
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s exists", ErrConflict, a.ID)
	}
	for _, existing := range s.accounts {
		if existing.Username == a.Username {
			return fmt.Errorf("%w: username %s taken", ErrConflict, a.Username)
		}
	}

	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Username == username {
			copy := *a
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("account %q: %w", username, ErrNotFound)
}

func (s *MemoryStore) ListAccountsByBalance(_ context.Context, limit int) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Balance != accounts[j].Balance {
			return accounts[i].Balance > accounts[j].Balance
		}
		return accounts[i].ID < accounts[j].ID
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

func (s *MemoryStore) GetMovements(_ context.Context, accountID string) ([]model.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Movement
	for _, m := range s.movements {
		if m.AccountID == accountID {
			result = append(result, m)
		}
	}
	return result, nil
}

// --- Bets ---

func (s *MemoryStore) CreateBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bets[b.ID]; ok {
		return fmt.Errorf("%w: bet %s exists", ErrConflict, b.ID)
	}
	s.bets[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ListBets(_ context.Context) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bets := make([]model.Bet, 0, len(s.bets))
	for _, b := range s.bets {
		bets = append(bets, *b.Clone())
	}
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].CreatedAt.After(bets[j].CreatedAt)
		}
		return bets[i].ID > bets[j].ID
	})
	return bets, nil
}

// --- Wagers ---

func (s *MemoryStore) GetWagersByAccount(_ context.Context, accountID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for i := len(s.wagerSeq) - 1; i >= 0; i-- {
		w := s.wagers[s.wagerSeq[i]]
		if w.AccountID == accountID {
			result = append(result, copyWager(w))
		}
	}
	return result, nil
}

func (s *MemoryStore) GetWagersByBet(_ context.Context, betID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wagersByBet(betID), nil
}

// wagersByBet must be called with s.mu held.
func (s *MemoryStore) wagersByBet(betID string) []model.Wager {
	var result []model.Wager
	for _, id := range s.wagerSeq {
		w := s.wagers[id]
		if w.BetID == betID {
			result = append(result, copyWager(w))
		}
	}
	return result
}

func copyWager(w *model.Wager) model.Wager {
	c := *w
	if w.Payout != nil {
		p := *w.Payout
		c.Payout = &p
	}
	return c
}

// --- Transactions ---

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(ctx, tx)
}

// memoryTx operates on the store's maps directly; the write lock is held
// by WithinTx for the transaction's lifetime.
type memoryTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) InsertAccount(_ context.Context, a *model.Account) error {
	if err := t.s.insertAccount(a); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { delete(t.s.accounts, a.ID) })
	return nil
}

func (t *memoryTx) LockBet(_ context.Context, betID string) (*model.Bet, error) {
	b, ok := t.s.bets[betID]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", betID, ErrNotFound)
	}
	return b.Clone(), nil
}

func (t *memoryTx) DebitAccount(_ context.Context, accountID string, amount int64) (int64, error) {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if a.Balance < amount {
		return a.Balance, ErrInsufficientBalance
	}
	a.Balance -= amount
	t.undo = append(t.undo, func() { a.Balance += amount })
	return a.Balance, nil
}

func (t *memoryTx) CreditAccount(_ context.Context, accountID string, amount int64) (int64, error) {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	a.Balance += amount
	t.undo = append(t.undo, func() { a.Balance -= amount })
	return a.Balance, nil
}

func (t *memoryTx) AppendMovement(_ context.Context, m *model.Movement) error {
	n := len(t.s.movements)
	t.s.movements = append(t.s.movements, *m)
	t.undo = append(t.undo, func() { t.s.movements = t.s.movements[:n] })
	return nil
}

func (t *memoryTx) InsertWager(_ context.Context, w *model.Wager) error {
	if _, ok := t.s.wagers[w.ID]; ok {
		return fmt.Errorf("%w: wager %s exists", ErrConflict, w.ID)
	}
	c := copyWager(w)
	t.s.wagers[w.ID] = &c
	n := len(t.s.wagerSeq)
	t.s.wagerSeq = append(t.s.wagerSeq, w.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.wagers, w.ID)
		t.s.wagerSeq = t.s.wagerSeq[:n]
	})
	return nil
}

func (t *memoryTx) AddToPool(_ context.Context, betID, outcomeID string, amount int64, weighted decimal.Decimal) error {
	b, ok := t.s.bets[betID]
	if !ok {
		return fmt.Errorf("bet %s: %w", betID, ErrNotFound)
	}
	o := b.Outcome(outcomeID)
	if o == nil {
		return fmt.Errorf("outcome %s on bet %s: %w", outcomeID, betID, ErrNotFound)
	}

	prevWeighted := o.WeightedTotal
	o.PoolTotal += amount
	o.WeightedTotal = o.WeightedTotal.Add(weighted)
	b.TotalPool += amount
	t.undo = append(t.undo, func() {
		o.PoolTotal -= amount
		o.WeightedTotal = prevWeighted
		b.TotalPool -= amount
	})
	return nil
}

func (t *memoryTx) GetWagersByBet(_ context.Context, betID string) ([]model.Wager, error) {
	return t.s.wagersByBet(betID), nil
}

func (t *memoryTx) SetPayout(_ context.Context, wagerID string, payout int64) error {
	w, ok := t.s.wagers[wagerID]
	if !ok {
		return fmt.Errorf("wager %s: %w", wagerID, ErrNotFound)
	}
	if w.Payout != nil {
		return fmt.Errorf("%w: payout for wager %s already set", ErrConflict, wagerID)
	}
	w.Payout = &payout
	t.undo = append(t.undo, func() { w.Payout = nil })
	return nil
}

func (t *memoryTx) MarkResolved(_ context.Context, betID, outcomeID string, at time.Time) error {
	b, ok := t.s.bets[betID]
	if !ok {
		return fmt.Errorf("bet %s: %w", betID, ErrNotFound)
	}
	if b.IsResolved() {
		return fmt.Errorf("%w: bet %s already resolved", ErrConflict, betID)
	}
	b.WinningOutcomeID = outcomeID
	b.ResolvedAt = &at
	t.undo = append(t.undo, func() {
		b.WinningOutcomeID = ""
		b.ResolvedAt = nil
	})
	return nil
}
