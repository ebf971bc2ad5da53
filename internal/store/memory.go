package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions work on a copy of the state and swap it in on commit, holding
// the write lock for their whole duration. fn passed to WithTx must only use
// the Tx it is given.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

type posKey struct {
	userID string
	ticker string
}

type memState struct {
	users     map[string]model.User
	positions map[posKey]model.Position
	trades    []model.Trade
}

func (st memState) clone() memState {
	c := memState{
		users:     make(map[string]model.User, len(st.users)),
		positions: make(map[posKey]model.Position, len(st.positions)),
		trades:    make([]model.Trade, len(st.trades)),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.positions {
		c.positions[k] = v
	}
	copy(c.trades, st.trades)
	return c
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			users:     make(map[string]model.User),
			positions: make(map[posKey]model.Position),
		},
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", ErrAlreadyExists, u.ID)
	}
	for _, existing := range s.state.users {
		switch {
		case existing.Username == u.Username:
			return fmt.Errorf("%w: username %s", ErrAlreadyExists, u.Username)
		case existing.Email == u.Email:
			return fmt.Errorf("%w: email %s", ErrAlreadyExists, u.Email)
		case existing.Phone == u.Phone:
			return fmt.Errorf("%w: phone %s", ErrAlreadyExists, u.Phone)
		}
	}

	s.state.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.state.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return s.findUser(func(u model.User) bool { return u.Username == username }, "username "+username)
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return s.findUser(func(u model.User) bool { return u.Email == email }, "email "+email)
}

func (s *MemoryStore) GetUserByPhone(_ context.Context, phone string) (*model.User, error) {
	return s.findUser(func(u model.User) bool { return u.Phone == phone }, "phone "+phone)
}

func (s *MemoryStore) findUser(match func(model.User) bool, desc string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.state.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: user with %s", ErrNotFound, desc)
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, ticker string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.position(userID, ticker)
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for k, p := range s.state.positions {
		if k.userID == userID {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Ticker < positions[j].Ticker
	})
	return positions, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.state.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	s.state = tx.state
	return nil
}

func (st memState) position(userID, ticker string) (*model.Position, error) {
	p, ok := st.positions[posKey{userID, ticker}]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, ticker)
	}
	return &p, nil
}

// memTx mutates a private copy of the state.
type memTx struct {
	state memState
}

func (t *memTx) LockUser(_ context.Context, id string) (*model.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return &u, nil
}

func (t *memTx) GetPosition(_ context.Context, userID, ticker string) (*model.Position, error) {
	return t.state.position(userID, ticker)
}

func (t *memTx) SavePosition(_ context.Context, p *model.Position) error {
	if _, ok := t.state.users[p.UserID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, p.UserID)
	}
	if !p.Shares.IsPositive() {
		return fmt.Errorf("store: position %s/%s must hold shares", p.UserID, p.Ticker)
	}
	t.state.positions[posKey{p.UserID, p.Ticker}] = *p
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, userID, ticker string) error {
	k := posKey{userID, ticker}
	if _, ok := t.state.positions[k]; !ok {
		return fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, ticker)
	}
	delete(t.state.positions, k)
	return nil
}

func (t *memTx) UpdateBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	u, ok := t.state.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if balance.IsNegative() {
		return fmt.Errorf("store: balance of %s would be negative", userID)
	}
	u.Balance = balance
	t.state.users[userID] = u
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	t.state.trades = append(t.state.trades, *tr)
	return nil
}
