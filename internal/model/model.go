// Package model defines the core domain types shared across the trading engine.
// All monetary values and share quantities use shopspring/decimal.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultStartingBalance is the simulated cash credited at registration.
var DefaultStartingBalance = decimal.NewFromInt(1_000_000)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// User owns a cash balance and zero or more positions.
type User struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	Email        string          `json:"email" db:"email"`
	Phone        string          `json:"phone" db:"phone"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's holding of a single ticker. CostBasis and Shares are
// the only stored quantities; the average price is always derived from them.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	OpenedAt  time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// AveragePrice returns CostBasis / Shares, or zero for an empty position.
func (p Position) AveragePrice() decimal.Decimal {
	if !p.Shares.IsPositive() {
		return decimal.Zero
	}
	return p.CostBasis.Div(p.Shares)
}

// Trade is an immutable journal record of an executed buy or sell.
// Once created, these are never modified or deleted.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	Side        string          `json:"side" db:"side"` // "BUY" or "SELL"
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`             // cost (BUY) or proceeds (SELL)
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // zero for BUY
	ExecutedAt  time.Time       `json:"executed_at" db:"executed_at"`
}

// PricePoint is one sample of a ticker's price history.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// Valuation is a position marked to the current market price.
type Valuation struct {
	Position
	AveragePrice   decimal.Decimal `json:"average_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	PriceAvailable bool            `json:"price_available"`
}

// Portfolio aggregates a user's cash and marked-to-market positions.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	Positions     []Valuation     `json:"positions"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Equity        decimal.Decimal `json:"equity"` // balance + market value
}
