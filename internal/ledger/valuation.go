package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/papertrade/trading-engine/internal/model"
)

// maxQuoteFanout bounds concurrent price lookups during valuation.
const maxQuoteFanout = 4

// Valuate marks every open position of the user to the current market
// price. A position whose quote cannot be fetched is returned with
// PriceAvailable=false and left out of the totals; valuation itself only
// fails on storage errors.
func (l *Ledger) Valuate(ctx context.Context, userID string) (*model.Portfolio, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := l.Positions(ctx, userID)
	if err != nil {
		return nil, err
	}

	vals := make([]model.Valuation, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxQuoteFanout)
	for i, p := range positions {
		vals[i] = model.Valuation{Position: p, AveragePrice: p.AveragePrice()}
		if l.prices == nil {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			price, err := l.prices.LookupPrice(gctx, p.Ticker)
			if err != nil {
				l.log.Warn("valuation price unavailable", "ticker", p.Ticker, "err", err)
				return nil
			}
			vals[i] = Mark(p, price)
			return nil
		})
	}
	_ = g.Wait()

	pf := &model.Portfolio{
		UserID:        userID,
		Balance:       balance,
		Positions:     vals,
		TotalCost:     decimal.Zero,
		MarketValue:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}
	for _, v := range vals {
		if !v.PriceAvailable {
			continue
		}
		pf.TotalCost = pf.TotalCost.Add(v.CostBasis)
		pf.MarketValue = pf.MarketValue.Add(v.MarketValue)
		pf.UnrealizedPnL = pf.UnrealizedPnL.Add(v.UnrealizedPnL)
	}
	pf.Equity = balance.Add(pf.MarketValue)
	return pf, nil
}

// ValuatePosition marks a single position to market. Unlike Valuate, a
// missing quote is an error.
func (l *Ledger) ValuatePosition(ctx context.Context, userID, sym string) (*model.Valuation, error) {
	p, err := l.Position(ctx, userID, sym)
	if err != nil {
		return nil, err
	}
	if l.prices == nil {
		return nil, fmt.Errorf("%w: no price source configured", ErrQuoteUnavailable)
	}
	price, err := l.prices.LookupPrice(ctx, p.Ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrQuoteUnavailable, p.Ticker, err)
	}
	v := Mark(*p, price)
	return &v, nil
}

// Mark values pos at price.
func Mark(pos model.Position, price decimal.Decimal) model.Valuation {
	return model.Valuation{
		Position:       pos,
		AveragePrice:   pos.AveragePrice(),
		CurrentPrice:   price,
		MarketValue:    price.Mul(pos.Shares),
		UnrealizedPnL:  UnrealizedPnL(pos, price),
		PriceAvailable: true,
	}
}
