package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded SQL files in lexicographic order, recording
// each in schema_migrations so it runs once.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("store: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", name, err)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name)
			return err
		})
		if err != nil {
			return fmt.Errorf("store: apply migration %s: %w", name, err)
		}
	}
	return nil
}

const userCols = `id, username, email, phone, password_hash, balance::TEXT, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, phone, password_hash, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		u.ID, u.Username, u.Email, u.Phone, u.PasswordHash,
		u.Balance.String(), u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
		}
		return fmt.Errorf("store: create user %s: %w", u.Username, err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.getUserWhere(ctx, "id", id)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUserWhere(ctx, "username", username)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUserWhere(ctx, "email", email)
}

func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	return s.getUserWhere(ctx, "phone", phone)
}

// getUserWhere is only called with the fixed column names above.
func (s *PostgresStore) getUserWhere(ctx context.Context, col, val string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE `+col+` = $1`, val)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, "get user by %s %s", col, val)
	}
	return u, nil
}

const positionCols = `user_id, ticker, shares::TEXT, cost_basis::TEXT, opened_at, updated_at`

func (s *PostgresStore) GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND ticker = $2`,
		userID, ticker)
	p, err := scanPosition(row)
	if err != nil {
		return nil, notFound(err, "get position %s/%s", userID, ticker)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 ORDER BY ticker`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list positions %s: %w", userID, err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, ticker, side,
		        shares::TEXT, price::TEXT, amount::TEXT, realized_pnl::TEXT, executed_at
		 FROM trades WHERE user_id = $1 ORDER BY executed_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list trades %s: %w", userID, err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var sharesS, priceS, amountS, pnlS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &t.Side,
			&sharesS, &priceS, &amountS, &pnlS, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(sharesS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Amount, _ = decimal.NewFromString(amountS)
		t.RealizedPnL, _ = decimal.NewFromString(pnlS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// pgTx runs statements inside a pgx transaction. Reads take row locks so
// concurrent writers for the same user queue behind each other.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockUser(ctx context.Context, id string) (*model.User, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1 FOR UPDATE`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, "lock user %s", id)
	}
	return u, nil
}

func (t *pgTx) GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND ticker = $2 FOR UPDATE`,
		userID, ticker)
	p, err := scanPosition(row)
	if err != nil {
		return nil, notFound(err, "get position %s/%s", userID, ticker)
	}
	return p, nil
}

func (t *pgTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, ticker, shares, cost_basis, opened_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (user_id, ticker) DO UPDATE
		 SET shares = EXCLUDED.shares,
		     cost_basis = EXCLUDED.cost_basis,
		     updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Ticker, p.Shares.String(), p.CostBasis.String(), p.OpenedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save position %s/%s: %w", p.UserID, p.Ticker, err)
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, userID, ticker string) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND ticker = $2`, userID, ticker)
	if err != nil {
		return fmt.Errorf("store: delete position %s/%s: %w", userID, ticker, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, ticker)
	}
	return nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`, userID, balance.String())
	if err != nil {
		return fmt.Errorf("store: update balance %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, ticker, side, shares, price, amount, realized_pnl, executed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		tr.ID, tr.UserID, tr.Ticker, tr.Side,
		tr.Shares.String(), tr.Price.String(), tr.Amount.String(), tr.RealizedPnL.String(),
		tr.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert trade %s: %w", tr.ID, err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var balanceS string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.PasswordHash,
		&balanceS, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Balance, _ = decimal.NewFromString(balanceS)
	return &u, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var sharesS, costS string
	if err := row.Scan(&p.UserID, &p.Ticker, &sharesS, &costS, &p.OpenedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(sharesS)
	p.CostBasis, _ = decimal.NewFromString(costS)
	return &p, nil
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps anything else.
func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("store: %s: %w", what, err)
}
