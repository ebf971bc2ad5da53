package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// ApplyBuy returns the position after buying shares at price. prev is nil
// when the user holds no shares of the ticker yet. The cost basis grows by
// exactly shares*price, so the derived average is the weighted average of
// all purchases still held.
func ApplyBuy(prev *model.Position, userID, ticker string, shares, price decimal.Decimal, now time.Time) model.Position {
	cost := shares.Mul(price)
	if prev == nil {
		return model.Position{
			UserID:    userID,
			Ticker:    ticker,
			Shares:    shares,
			CostBasis: cost,
			OpenedAt:  now,
			UpdatedAt: now,
		}
	}

	next := *prev
	next.Shares = prev.Shares.Add(shares)
	next.CostBasis = prev.CostBasis.Add(cost)
	next.UpdatedAt = now
	return next
}

// ApplySell removes shares from pos at the average acquisition price. It
// returns the remaining position, or nil when every share was sold, and the
// cost basis that left the position. shares must not exceed pos.Shares.
func ApplySell(pos model.Position, shares decimal.Decimal, now time.Time) (*model.Position, decimal.Decimal) {
	if shares.GreaterThanOrEqual(pos.Shares) {
		return nil, pos.CostBasis
	}

	// costBasis*shares/held equals shares*averagePrice with a single division.
	removed := pos.CostBasis.Mul(shares).Div(pos.Shares)

	next := pos
	next.Shares = pos.Shares.Sub(shares)
	next.CostBasis = pos.CostBasis.Sub(removed)
	next.UpdatedAt = now
	return &next, removed
}

// UnrealizedPnL is the paper gain of pos at currentPrice:
// currentPrice*shares - costBasis. It has no side effects.
func UnrealizedPnL(pos model.Position, currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Mul(pos.Shares).Sub(pos.CostBasis)
}
