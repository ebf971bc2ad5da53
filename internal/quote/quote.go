// Package quote looks up equity prices from a market-data provider.
//
// Every Provider reports an unknown symbol as ErrNotFound. Any other error is
// a transport or provider failure; callers treat both the same way and abort.
package quote

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

var (
	ErrNotFound    = errors.New("quote: symbol not found")
	ErrRateLimited = errors.New("quote: provider rate limit reached")
	ErrBadResponse = errors.New("quote: malformed provider response")
)

// Provider is the quote lookup contract.
type Provider interface {
	// LookupPrice returns the latest price for ticker.
	LookupPrice(ctx context.Context, ticker string) (decimal.Decimal, error)

	// LookupHistory returns recent prices for ticker, oldest first.
	LookupHistory(ctx context.Context, ticker string) ([]model.PricePoint, error)
}
