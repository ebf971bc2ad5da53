// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. Reads outside a transaction see the
// last committed state. All mutations of balances and positions go through
// WithTx.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user. Returns ErrAlreadyExists when the
	// username, email or phone is taken.
	CreateUser(ctx context.Context, u *model.User) error

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)

	// --- Positions and journal ---

	// GetPosition returns ErrNotFound when the user holds no shares of ticker.
	GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error)

	// ListPositions returns the user's positions ordered by ticker.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// ListTrades returns the user's journal, oldest first.
	ListTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// WithTx runs fn in a transaction. It commits if fn returns nil and rolls
	// back otherwise; fn's error is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// LockUser loads the user row and holds it until the transaction ends.
	LockUser(ctx context.Context, id string) (*model.User, error)

	// GetPosition loads and locks the position row. ErrNotFound if absent.
	GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error)

	// SavePosition inserts or replaces the row keyed by (user, ticker).
	SavePosition(ctx context.Context, p *model.Position) error

	DeletePosition(ctx context.Context, userID, ticker string) error

	UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	// InsertTrade appends an immutable journal entry.
	InsertTrade(ctx context.Context, t *model.Trade) error
}
