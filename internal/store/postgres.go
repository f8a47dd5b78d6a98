package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/model"
)

// PostgresSchema creates the tables used by PostgresStore. Weights and
// weighted totals are NUMERIC for exact decimal precision.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    username   TEXT NOT NULL UNIQUE,
    balance    BIGINT NOT NULL CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bets (
    id                 TEXT PRIMARY KEY,
    title              TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    creator_id         TEXT NOT NULL REFERENCES accounts(id),
    created_at         TIMESTAMPTZ NOT NULL,
    close_time         TIMESTAMPTZ NOT NULL CHECK (close_time > created_at),
    total_pool         BIGINT NOT NULL DEFAULT 0,
    winning_outcome_id TEXT,
    resolved_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS outcomes (
    id             TEXT PRIMARY KEY,
    bet_id         TEXT NOT NULL REFERENCES bets(id),
    name           TEXT NOT NULL,
    position       INT NOT NULL,
    pool_total     BIGINT NOT NULL DEFAULT 0,
    weighted_total NUMERIC NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS wagers (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    bet_id     TEXT NOT NULL REFERENCES bets(id),
    outcome_id TEXT NOT NULL REFERENCES outcomes(id),
    amount     BIGINT NOT NULL CHECK (amount > 0),
    weight     NUMERIC NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    payout     BIGINT
);

CREATE TABLE IF NOT EXISTS movements (
    id            TEXT PRIMARY KEY,
    account_id    TEXT NOT NULL REFERENCES accounts(id),
    kind          TEXT NOT NULL,
    amount        BIGINT NOT NULL,
    balance_after BIGINT NOT NULL,
    ref           TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_bet     ON outcomes(bet_id, position);
CREATE INDEX IF NOT EXISTS idx_wagers_bet       ON wagers(bet_id, created_at);
CREATE INDEX IF NOT EXISTS idx_wagers_account   ON wagers(account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_movements_acct   ON movements(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts(balance DESC, id);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Per-bet exclusion uses SELECT ... FOR UPDATE on the bet row; debits are
// conditional updates so the balance CHECK can never trip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies PostgresSchema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	betColumns = `id, title, description, creator_id, created_at, close_time,
		total_pool, COALESCE(winning_outcome_id, ''), resolved_at`
	outcomeColumns = `id, bet_id, name, position, pool_total, weighted_total::TEXT`
	wagerColumns   = `id, account_id, bet_id, outcome_id, amount, weight::TEXT, created_at, payout`
)

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return insertAccount(ctx, s.pool, a)
}

func insertAccount(ctx context.Context, q querier, a *model.Account) error {
	_, err := q.Exec(ctx,
		`INSERT INTO accounts (id, username, balance, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Username, a.Balance, a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %s taken", ErrConflict, a.Username)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, balance, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Username, &a.Balance, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, notFound(err))
	}
	return &a, nil
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, balance, created_at FROM accounts WHERE username = $1`, username).
		Scan(&a.ID, &a.Username, &a.Balance, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", username, notFound(err))
	}
	return &a, nil
}

func (s *PostgresStore) ListAccountsByBalance(ctx context.Context, limit int) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, balance, created_at FROM accounts
		 ORDER BY balance DESC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.Balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) GetMovements(ctx context.Context, accountID string) ([]model.Movement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, amount, balance_after, ref, created_at
		 FROM movements WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []model.Movement
	for rows.Next() {
		var m model.Movement
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Kind, &m.Amount, &m.BalanceAfter, &m.Ref, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// --- Bets ---

func (s *PostgresStore) CreateBet(ctx context.Context, b *model.Bet) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		q := tx.(*pgTx).tx
		if _, err := q.Exec(ctx,
			`INSERT INTO bets (id, title, description, creator_id, created_at, close_time, total_pool)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			b.ID, b.Title, b.Description, b.CreatorID, b.CreatedAt, b.CloseTime, b.TotalPool,
		); err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}
		for _, o := range b.Outcomes {
			if _, err := q.Exec(ctx,
				`INSERT INTO outcomes (id, bet_id, name, position, pool_total, weighted_total)
				 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC)`,
				o.ID, b.ID, o.Name, o.Position, o.PoolTotal, o.WeightedTotal.String(),
			); err != nil {
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return getBet(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListBets(ctx context.Context) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
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

	outcomes, err := s.pool.Query(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes ORDER BY bet_id, position`)
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

func (s *PostgresStore) GetWagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE account_id = $1 ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

func (s *PostgresStore) GetWagersByBet(ctx context.Context, betID string) ([]model.Wager, error) {
	return wagersByBet(ctx, s.pool, betID)
}

// --- Transactions ---

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertAccount(ctx context.Context, a *model.Account) error {
	return insertAccount(ctx, t.tx, a)
}

func (t *pgTx) LockBet(ctx context.Context, betID string) (*model.Bet, error) {
	return getBet(ctx, t.tx, betID, true)
}

func (t *pgTx) DebitAccount(ctx context.Context, accountID string, amount int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance - $2
		 WHERE id = $1 AND balance >= $2
		 RETURNING balance`, accountID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the account is missing or the balance is short.
		var exists bool
		if err := t.tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return 0, ErrInsufficientBalance
	}
	return balance, err
}

func (t *pgTx) CreditAccount(ctx context.Context, accountID string, amount int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
		accountID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit account %s: %w", accountID, notFound(err))
	}
	return balance, nil
}

func (t *pgTx) AppendMovement(ctx context.Context, m *model.Movement) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO movements (id, account_id, kind, amount, balance_after, ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.AccountID, string(m.Kind), m.Amount, m.BalanceAfter, m.Ref, m.CreatedAt)
	return err
}

func (t *pgTx) InsertWager(ctx context.Context, w *model.Wager) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wagers (id, account_id, bet_id, outcome_id, amount, weight, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		w.ID, w.AccountID, w.BetID, w.OutcomeID, w.Amount, w.Weight.String(), w.CreatedAt)
	return err
}

func (t *pgTx) AddToPool(ctx context.Context, betID, outcomeID string, amount int64, weighted decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE outcomes
		 SET pool_total = pool_total + $3, weighted_total = weighted_total + $4::NUMERIC
		 WHERE id = $2 AND bet_id = $1`,
		betID, outcomeID, amount, weighted.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outcome %s on bet %s: %w", outcomeID, betID, ErrNotFound)
	}
	_, err = t.tx.Exec(ctx,
		`UPDATE bets SET total_pool = total_pool + $2 WHERE id = $1`, betID, amount)
	return err
}

func (t *pgTx) GetWagersByBet(ctx context.Context, betID string) ([]model.Wager, error) {
	return wagersByBet(ctx, t.tx, betID)
}

func (t *pgTx) SetPayout(ctx context.Context, wagerID string, payout int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wagers SET payout = $2 WHERE id = $1 AND payout IS NULL`, wagerID, payout)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payout for wager %s already set", ErrConflict, wagerID)
	}
	return nil
}

func (t *pgTx) MarkResolved(ctx context.Context, betID, outcomeID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bets SET winning_outcome_id = $2, resolved_at = $3
		 WHERE id = $1 AND winning_outcome_id IS NULL`, betID, outcomeID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bet %s already resolved", ErrConflict, betID)
	}
	return nil
}

// --- Helpers ---

func getBet(ctx context.Context, q querier, id string, forUpdate bool) (*model.Bet, error) {
	query := `SELECT ` + betColumns + ` FROM bets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBet(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, notFound(err))
	}

	rows, err := q.Query(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE bet_id = $1 ORDER BY position`, id)
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

func wagersByBet(ctx context.Context, q querier, betID string) ([]model.Wager, error) {
	rows, err := q.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE bet_id = $1 ORDER BY created_at, id`, betID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

// rowScanner is satisfied by pgx.Row, pgx.Rows and *sql.Row(s).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(row rowScanner) (*model.Bet, error) {
	var b model.Bet
	if err := row.Scan(&b.ID, &b.Title, &b.Description, &b.CreatorID, &b.CreatedAt, &b.CloseTime,
		&b.TotalPool, &b.WinningOutcomeID, &b.ResolvedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanOutcome(row rowScanner) (model.Outcome, error) {
	var o model.Outcome
	var weighted string
	if err := row.Scan(&o.ID, &o.BetID, &o.Name, &o.Position, &o.PoolTotal, &weighted); err != nil {
		return o, err
	}
	w, err := decimal.NewFromString(weighted)
	if err != nil {
		return o, fmt.Errorf("outcome %s weighted_total: %w", o.ID, err)
	}
	o.WeightedTotal = w
	return o, nil
}

type scannableRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanWagers(rows scannableRows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		var w model.Wager
		var weight string
		if err := rows.Scan(&w.ID, &w.AccountID, &w.BetID, &w.OutcomeID, &w.Amount,
			&weight, &w.CreatedAt, &w.Payout); err != nil {
			return nil, err
		}
		wt, err := decimal.NewFromString(weight)
		if err != nil {
			return nil, fmt.Errorf("wager %s weight: %w", w.ID, err)
		}
		w.Weight = wt
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
