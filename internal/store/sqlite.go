package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/officebet/pool-engine/internal/model"
)

// Timestamps are stored as UTC unix nanoseconds; weights and weighted totals
// as decimal strings.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    username   TEXT    NOT NULL UNIQUE,
    balance    INTEGER NOT NULL CHECK (balance >= 0),
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bets (
    id                 TEXT PRIMARY KEY,
    title              TEXT    NOT NULL,
    description        TEXT    NOT NULL DEFAULT '',
    creator_id         TEXT    NOT NULL REFERENCES accounts(id),
    created_at         INTEGER NOT NULL,
    close_time         INTEGER NOT NULL CHECK (close_time > created_at),
    total_pool         INTEGER NOT NULL DEFAULT 0,
    winning_outcome_id TEXT,
    resolved_at        INTEGER
);

CREATE TABLE IF NOT EXISTS outcomes (
    id             TEXT PRIMARY KEY,
    bet_id         TEXT    NOT NULL REFERENCES bets(id),
    name           TEXT    NOT NULL,
    position       INTEGER NOT NULL,
    pool_total     INTEGER NOT NULL DEFAULT 0,
    weighted_total TEXT    NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS wagers (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    account_id TEXT    NOT NULL REFERENCES accounts(id),
    bet_id     TEXT    NOT NULL REFERENCES bets(id),
    outcome_id TEXT    NOT NULL REFERENCES outcomes(id),
    amount     INTEGER NOT NULL CHECK (amount > 0),
    weight     TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    payout     INTEGER
);

CREATE TABLE IF NOT EXISTS movements (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT    NOT NULL UNIQUE,
    account_id    TEXT    NOT NULL REFERENCES accounts(id),
    kind          TEXT    NOT NULL,
    amount        INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    ref           TEXT    NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_bet     ON outcomes(bet_id, position);
CREATE INDEX IF NOT EXISTS idx_wagers_bet       ON wagers(bet_id, seq);
CREATE INDEX IF NOT EXISTS idx_wagers_account   ON wagers(account_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_movements_acct   ON movements(account_id, seq);
CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts(balance DESC, id);
`

// SQLiteStore implements Store on an embedded SQLite file (pure Go, no CGo).
// The pool is pinned to one connection, so transactions are serialized and
// LockBet needs no row lock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	sqliteBetColumns = `id, title, description, creator_id, created_at, close_time,
		total_pool, COALESCE(winning_outcome_id, ''), resolved_at`
	sqliteOutcomeColumns = `id, bet_id, name, position, pool_total, weighted_total`
	sqliteWagerColumns   = `id, account_id, bet_id, outcome_id, amount, weight, created_at, payout`
)

// --- Accounts ---

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return sqliteInsertAccount(ctx, s.db, a)
}

func sqliteInsertAccount(ctx context.Context, q sqlQuerier, a *model.Account) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO accounts (id, username, balance, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Username, a.Balance, a.CreatedAt.UnixNano())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx,
		`SELECT id, username, balance, created_at FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, sqlNotFound(err))
	}
	return a, nil
}

func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx,
		`SELECT id, username, balance, created_at FROM accounts WHERE username = ?`, username))
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", username, sqlNotFound(err))
	}
	return a, nil
}

func (s *SQLiteStore) ListAccountsByBalance(ctx context.Context, limit int) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, balance, created_at FROM accounts
		 ORDER BY balance DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) GetMovements(ctx context.Context, accountID string) ([]model.Movement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, kind, amount, balance_after, ref, created_at
		 FROM movements WHERE account_id = ? ORDER BY seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []model.Movement
	for rows.Next() {
		var m model.Movement
		var kind string
		var created int64
		if err := rows.Scan(&m.ID, &m.AccountID, &kind, &m.Amount, &m.BalanceAfter, &m.Ref, &created); err != nil {
			return nil, err
		}
		m.Kind = model.MovementKind(kind)
		m.CreatedAt = fromNanos(created)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// --- Bets ---

func (s *SQLiteStore) CreateBet(ctx context.Context, b *model.Bet) error {
	created, err := toNanos(b.CreatedAt)
	if err != nil {
		return err
	}
	closes, err := toNanos(b.CloseTime)
	if err != nil {
		return err
	}
	return s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		q := tx.(*sqliteTx).tx
		if _, err := q.ExecContext(ctx,
			`INSERT INTO bets (id, title, description, creator_id, created_at, close_time, total_pool)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Title, b.Description, b.CreatorID, created, closes, b.TotalPool,
		); err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}
		for _, o := range b.Outcomes {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO outcomes (id, bet_id, name, position, pool_total, weighted_total)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				o.ID, b.ID, o.Name, o.Position, o.PoolTotal, o.WeightedTotal.String(),
			); err != nil {
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return sqliteGetBet(ctx, s.db, id)
}

func (s *SQLiteStore) ListBets(ctx context.Context) ([]model.Bet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteBetColumns+` FROM bets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	var bets []model.Bet
	for rows.Next() {
		b, err := scanSQLiteBet(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bets = append(bets, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	outcomes, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteOutcomeColumns+` FROM outcomes ORDER BY bet_id, position`)
	if err != nil {
		return nil, err
	}
	defer outcomes.Close()

	byBet := make(map[string][]model.Outcome)
	for outcomes.Next() {
		o, err := scanOutcome(outcomes)
		if err != nil {
			return nil, err
		}
		byBet[o.BetID] = append(byBet[o.BetID], o)
	}
	for i := range bets {
		bets[i].Outcomes = byBet[bets[i].ID]
	}
	return bets, outcomes.Err()
}

// --- Wagers ---

func (s *SQLiteStore) GetWagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteWagerColumns+` FROM wagers WHERE account_id = ? ORDER BY seq DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteWagers(rows)
}

func (s *SQLiteStore) GetWagersByBet(ctx context.Context, betID string) ([]model.Wager, error) {
	return sqliteWagersByBet(ctx, s.db, betID)
}

// --- Transactions ---

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertAccount(ctx context.Context, a *model.Account) error {
	return sqliteInsertAccount(ctx, t.tx, a)
}

func (t *sqliteTx) LockBet(ctx context.Context, betID string) (*model.Bet, error) {
	return sqliteGetBet(ctx, t.tx, betID)
}

func (t *sqliteTx) DebitAccount(ctx context.Context, accountID string, amount int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance - ?
		 WHERE id = ? AND balance >= ?
		 RETURNING balance`, amount, accountID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var n int
		if err := t.tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM accounts WHERE id = ?`, accountID).Scan(&n); err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return 0, ErrInsufficientBalance
	}
	return balance, err
}

func (t *sqliteTx) CreditAccount(ctx context.Context, accountID string, amount int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + ? WHERE id = ? RETURNING balance`,
		amount, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit account %s: %w", accountID, sqlNotFound(err))
	}
	return balance, nil
}

func (t *sqliteTx) AppendMovement(ctx context.Context, m *model.Movement) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO movements (id, account_id, kind, amount, balance_after, ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountID, string(m.Kind), m.Amount, m.BalanceAfter, m.Ref, m.CreatedAt.UnixNano())
	return err
}

func (t *sqliteTx) InsertWager(ctx context.Context, w *model.Wager) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO wagers (id, account_id, bet_id, outcome_id, amount, weight, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.AccountID, w.BetID, w.OutcomeID, w.Amount, w.Weight.String(), w.CreatedAt.UnixNano())
	return err
}

func (t *sqliteTx) AddToPool(ctx context.Context, betID, outcomeID string, amount int64, weighted decimal.Decimal) error {
	// SQLite has no exact decimal type: read, add, write back.
	var current string
	err := t.tx.QueryRowContext(ctx,
		`SELECT weighted_total FROM outcomes WHERE id = ? AND bet_id = ?`, outcomeID, betID).Scan(&current)
	if err != nil {
		return fmt.Errorf("outcome %s on bet %s: %w", outcomeID, betID, sqlNotFound(err))
	}
	total, err := decimal.NewFromString(current)
	if err != nil {
		return fmt.Errorf("outcome %s weighted_total: %w", outcomeID, err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE outcomes SET pool_total = pool_total + ?, weighted_total = ? WHERE id = ?`,
		amount, total.Add(weighted).String(), outcomeID); err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE bets SET total_pool = total_pool + ? WHERE id = ?`, amount, betID)
	return err
}

func (t *sqliteTx) GetWagersByBet(ctx context.Context, betID string) ([]model.Wager, error) {
	return sqliteWagersByBet(ctx, t.tx, betID)
}

func (t *sqliteTx) SetPayout(ctx context.Context, wagerID string, payout int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE wagers SET payout = ? WHERE id = ? AND payout IS NULL`, payout, wagerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: payout for wager %s already set", ErrConflict, wagerID)
	}
	return nil
}

func (t *sqliteTx) MarkResolved(ctx context.Context, betID, outcomeID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bets SET winning_outcome_id = ?, resolved_at = ?
		 WHERE id = ? AND winning_outcome_id IS NULL`, outcomeID, at.UnixNano(), betID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: bet %s already resolved", ErrConflict, betID)
	}
	return nil
}

// --- Helpers ---

func sqliteGetBet(ctx context.Context, q sqlQuerier, id string) (*model.Bet, error) {
	b, err := scanSQLiteBet(q.QueryRowContext(ctx,
		`SELECT `+sqliteBetColumns+` FROM bets WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, sqlNotFound(err))
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+sqliteOutcomeColumns+` FROM outcomes WHERE bet_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		b.Outcomes = append(b.Outcomes, o)
	}
	return b, rows.Err()
}

func sqliteWagersByBet(ctx context.Context, q sqlQuerier, betID string) ([]model.Wager, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+sqliteWagerColumns+` FROM wagers WHERE bet_id = ? ORDER BY seq`, betID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteWagers(rows)
}

func scanSQLiteAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	var created int64
	if err := row.Scan(&a.ID, &a.Username, &a.Balance, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = fromNanos(created)
	return &a, nil
}

func scanSQLiteBet(row rowScanner) (*model.Bet, error) {
	var b model.Bet
	var created, closes int64
	var resolved sql.NullInt64
	if err := row.Scan(&b.ID, &b.Title, &b.Description, &b.CreatorID, &created, &closes,
		&b.TotalPool, &b.WinningOutcomeID, &resolved); err != nil {
		return nil, err
	}
	b.CreatedAt = fromNanos(created)
	b.CloseTime = fromNanos(closes)
	if resolved.Valid {
		t := fromNanos(resolved.Int64)
		b.ResolvedAt = &t
	}
	return &b, nil
}

func scanSQLiteWagers(rows *sql.Rows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		var w model.Wager
		var weight string
		var created int64
		var payout sql.NullInt64
		if err := rows.Scan(&w.ID, &w.AccountID, &w.BetID, &w.OutcomeID, &w.Amount,
			&weight, &created, &payout); err != nil {
			return nil, err
		}
		wt, err := decimal.NewFromString(weight)
		if err != nil {
			return nil, fmt.Errorf("wager %s weight: %w", w.ID, err)
		}
		w.Weight = wt
		w.CreatedAt = fromNanos(created)
		if payout.Valid {
			p := payout.Int64
			w.Payout = &p
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

// toNanos converts t to unix nanoseconds, rejecting times UnixNano would
// silently wrap (before 1678 or after 2262).
func toNanos(t time.Time) (int64, error) {
	if t.Before(minNanoTime) || t.After(maxNanoTime) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, t.Format(time.RFC3339))
	}
	return t.UnixNano(), nil
}

func sqlNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
