package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

const invalidateTimeout = 5 * time.Second

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of each user's position list. Transactions go to the primary store
// and, once committed, invalidate the cache for every user they touched.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss.
	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Write-through (commit on primary, then invalidate) ---

func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	touched := make(map[string]struct{})
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		return fn(&trackingTx{Tx: tx, touched: touched})
	})
	if err != nil {
		return err
	}

	if len(touched) > 0 {
		keys := make([]string, 0, len(touched))
		for uid := range touched {
			keys = append(keys, positionsKey(uid))
		}
		s.invalidate(keys)
	}
	return nil
}

// invalidate drops committed users' cached lists. It runs after the commit,
// so it must not inherit the request's cancellation.
func (s *CachedStore) invalidate(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("position cache invalidation failed", "keys", keys, "err", err)
	}
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.primary.GetUserByUsername(ctx, username)
}

func (s *CachedStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.primary.GetUserByEmail(ctx, email)
}

func (s *CachedStore) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	return s.primary.GetUserByPhone(ctx, phone)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, ticker)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID)
}

// trackingTx records which users a transaction wrote to.
type trackingTx struct {
	Tx
	touched map[string]struct{}
}

func (t *trackingTx) SavePosition(ctx context.Context, p *model.Position) error {
	t.touched[p.UserID] = struct{}{}
	return t.Tx.SavePosition(ctx, p)
}

func (t *trackingTx) DeletePosition(ctx context.Context, userID, ticker string) error {
	t.touched[userID] = struct{}{}
	return t.Tx.DeletePosition(ctx, userID, ticker)
}

func (t *trackingTx) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	t.touched[userID] = struct{}{}
	return t.Tx.UpdateBalance(ctx, userID, balance)
}

// --- Cache helpers ---

func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
