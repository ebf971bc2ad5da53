package quote

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// Static serves fixed prices from memory. Used in development mode and
// tests; prices can be changed while running.
type Static struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	history map[string][]model.PricePoint
	failing map[string]error
}

// NewStatic creates a provider serving the given prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{
		prices:  make(map[string]decimal.Decimal, len(prices)),
		history: make(map[string][]model.PricePoint),
		failing: make(map[string]error),
	}
	for k, v := range prices {
		s.prices[k] = v
	}
	return s
}

// SetPrice sets or replaces the price of ticker.
func (s *Static) SetPrice(ticker string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[ticker] = price
	delete(s.failing, ticker)
}

// SetHistory sets the series returned by LookupHistory.
func (s *Static) SetHistory(ticker string, points []model.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[ticker] = append([]model.PricePoint(nil), points...)
}

// Fail makes every lookup of ticker return err until SetPrice is called.
func (s *Static) Fail(ticker string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[ticker] = err
}

func (s *Static) LookupPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.failing[ticker]; ok {
		return decimal.Zero, err
	}
	p, ok := s.prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	return p, nil
}

func (s *Static) LookupHistory(_ context.Context, ticker string) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.failing[ticker]; ok {
		return nil, err
	}
	if h, ok := s.history[ticker]; ok {
		return append([]model.PricePoint(nil), h...), nil
	}
	if _, ok := s.prices[ticker]; ok {
		return []model.PricePoint{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
}
