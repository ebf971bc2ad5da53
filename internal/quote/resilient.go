package quote

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/retry"
)

// Resilient wraps a Provider with bounded retries for transient failures,
// deduplication of concurrent lookups of the same ticker, and an optional
// price cache. ErrNotFound is never retried.
type Resilient struct {
	next   Provider
	policy retry.Policy
	cache  PriceCache // may be nil
	group  singleflight.Group
}

// NewResilient wraps next. Pass a nil cache to disable caching.
func NewResilient(next Provider, policy retry.Policy, cache PriceCache) *Resilient {
	return &Resilient{next: next, policy: policy, cache: cache}
}

func (r *Resilient) LookupPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if r.cache != nil {
		if p, ok := r.cache.GetPrice(ctx, ticker); ok {
			metrics.QuoteLookups.WithLabelValues("price", "hit").Inc()
			return p, nil
		}
	}
	return r.fetchPrice(ctx, ticker)
}

// Fresh returns a view of r that never answers from the price cache. A
// fetched price still refreshes the cache for other readers.
func (r *Resilient) Fresh() *FreshPrices {
	return &FreshPrices{r: r}
}

// FreshPrices prices orders at the provider's current quote.
type FreshPrices struct {
	r *Resilient
}

func (f *FreshPrices) LookupPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return f.r.fetchPrice(ctx, ticker)
}

func (r *Resilient) fetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	v, err, _ := r.group.Do("price:"+ticker, func() (interface{}, error) {
		var price decimal.Decimal
		err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
			p, err := r.next.LookupPrice(ctx, ticker)
			if err != nil {
				return classify(err)
			}
			price = p
			return nil
		})
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.SetPrice(ctx, ticker, price)
		}
		return price, nil
	})
	record("price", ticker, err)
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (r *Resilient) LookupHistory(ctx context.Context, ticker string) ([]model.PricePoint, error) {
	v, err, _ := r.group.Do("history:"+ticker, func() (interface{}, error) {
		var points []model.PricePoint
		err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
			p, err := r.next.LookupHistory(ctx, ticker)
			if err != nil {
				return classify(err)
			}
			points = p
			return nil
		})
		return points, err
	})
	record("history", ticker, err)
	if err != nil {
		return nil, err
	}
	// Shared callers must not alias one slice.
	return append([]model.PricePoint(nil), v.([]model.PricePoint)...), nil
}

// classify marks errors that retrying cannot fix.
func classify(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadResponse) {
		return retry.Permanent(err)
	}
	return err
}

func record(kind, ticker string, err error) {
	switch {
	case err == nil:
		metrics.QuoteLookups.WithLabelValues(kind, "ok").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.QuoteLookups.WithLabelValues(kind, "not_found").Inc()
	default:
		metrics.QuoteLookups.WithLabelValues(kind, "error").Inc()
		slog.Warn("quote lookup failed", "kind", kind, "ticker", ticker, "err", err)
	}
}

var (
	_ Provider = (*AlphaVantage)(nil)
	_ Provider = (*Static)(nil)
	_ Provider = (*Resilient)(nil)
)
