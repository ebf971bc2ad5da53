// Package ledger is the position accounting engine: it buys and sells
// simulated shares against a user's cash balance.
//
// Each order runs under a per-user lock and inside one store transaction, so
// the position row, the balance and the trade journal entry are written
// together or not at all, and concurrent orders from one user cannot lose
// updates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/lock"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/ticker"
)

// PriceSource supplies current prices for market orders and valuation.
type PriceSource interface {
	LookupPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// Order is a validated-at-the-boundary buy or sell instruction.
type Order struct {
	UserID string
	Ticker string
	Shares decimal.Decimal
	Price  decimal.Decimal
}

// Result is the outcome of an accepted order.
type Result struct {
	// Position is the snapshot after the trade; nil when a sell closed it.
	Position *model.Position `json:"position"`
	Trade    model.Trade     `json:"trade"`
	Balance  decimal.Decimal `json:"balance"`
}

// Proceeds is the cash credited by a sell (zero for a buy).
func (r *Result) Proceeds() decimal.Decimal {
	if r.Trade.Side != model.SideSell {
		return decimal.Zero
	}
	return r.Trade.Amount
}

// Ledger executes orders against a Store.
type Ledger struct {
	store       store.Store
	locker      lock.Locker
	prices      PriceSource
	openAccount AccountOpener
	now         func() time.Time
	log         *slog.Logger
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithAccountOpener swaps the cash account implementation.
func WithAccountOpener(fn AccountOpener) Option {
	return func(l *Ledger) { l.openAccount = fn }
}

// WithClock overrides time.Now for trade and position timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a Ledger. prices may be nil if market orders and valuation
// are not used.
func New(st store.Store, locker lock.Locker, prices PriceSource, opts ...Option) *Ledger {
	l := &Ledger{
		store:       st,
		locker:      locker,
		prices:      prices,
		openAccount: NewCashAccount,
		now:         func() time.Time { return time.Now().UTC() },
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Buy debits shares*price from the user's cash and adds the shares to the
// (user, ticker) position, creating it if needed.
func (l *Ledger) Buy(ctx context.Context, o Order) (*Result, error) {
	if err := validate(&o, true); err != nil {
		return nil, l.reject(model.SideBuy, err)
	}

	var res *Result
	err := l.execute(ctx, model.SideBuy, o.UserID, func(tx store.Tx) error {
		user, err := lockUser(ctx, tx, o.UserID)
		if err != nil {
			return err
		}
		prev, err := getPosition(ctx, tx, o.UserID, o.Ticker)
		if err != nil && !errors.Is(err, ErrPositionNotFound) {
			return err
		}

		cost := o.Shares.Mul(o.Price)
		acct := l.openAccount(user)
		if err := acct.Withdraw(cost); err != nil {
			return err
		}

		now := l.now()
		next := ApplyBuy(prev, o.UserID, o.Ticker, o.Shares, o.Price, now)
		if err := tx.SavePosition(ctx, &next); err != nil {
			return &PersistenceError{Op: "save position", Err: err}
		}
		if err := tx.UpdateBalance(ctx, o.UserID, acct.Balance()); err != nil {
			return &PersistenceError{Op: "update balance", Err: err}
		}

		trade := model.Trade{
			ID:          uuid.New().String(),
			UserID:      o.UserID,
			Ticker:      o.Ticker,
			Side:        model.SideBuy,
			Shares:      o.Shares,
			Price:       o.Price,
			Amount:      cost,
			RealizedPnL: decimal.Zero,
			ExecutedAt:  now,
		}
		if err := tx.InsertTrade(ctx, &trade); err != nil {
			return &PersistenceError{Op: "insert trade", Err: err}
		}

		res = &Result{Position: &next, Trade: trade, Balance: acct.Balance()}
		return nil
	})
	if err != nil {
		return nil, l.reject(model.SideBuy, err)
	}

	l.executed(res)
	return res, nil
}

// Sell removes shares from the position at its average price and credits
// shares*price to the user's cash. Selling every share deletes the position.
// The gain or loss against the average price is recorded on the trade.
func (l *Ledger) Sell(ctx context.Context, o Order) (*Result, error) {
	if err := validate(&o, true); err != nil {
		return nil, l.reject(model.SideSell, err)
	}

	var res *Result
	err := l.execute(ctx, model.SideSell, o.UserID, func(tx store.Tx) error {
		user, err := lockUser(ctx, tx, o.UserID)
		if err != nil {
			return err
		}
		pos, err := getPosition(ctx, tx, o.UserID, o.Ticker)
		if err != nil {
			return err
		}
		if o.Shares.GreaterThan(pos.Shares) {
			return fmt.Errorf("%w: selling %s of %s held", ErrInsufficientShares, o.Shares, pos.Shares)
		}

		proceeds := o.Shares.Mul(o.Price)
		acct := l.openAccount(user)
		if err := acct.Deposit(proceeds); err != nil {
			return err
		}

		now := l.now()
		remaining, removed := ApplySell(*pos, o.Shares, now)
		if remaining == nil {
			if err := tx.DeletePosition(ctx, o.UserID, o.Ticker); err != nil {
				return &PersistenceError{Op: "delete position", Err: err}
			}
		} else if err := tx.SavePosition(ctx, remaining); err != nil {
			return &PersistenceError{Op: "save position", Err: err}
		}
		if err := tx.UpdateBalance(ctx, o.UserID, acct.Balance()); err != nil {
			return &PersistenceError{Op: "update balance", Err: err}
		}

		trade := model.Trade{
			ID:          uuid.New().String(),
			UserID:      o.UserID,
			Ticker:      o.Ticker,
			Side:        model.SideSell,
			Shares:      o.Shares,
			Price:       o.Price,
			Amount:      proceeds,
			RealizedPnL: proceeds.Sub(removed),
			ExecutedAt:  now,
		}
		if err := tx.InsertTrade(ctx, &trade); err != nil {
			return &PersistenceError{Op: "insert trade", Err: err}
		}

		res = &Result{Position: remaining, Trade: trade, Balance: acct.Balance()}
		return nil
	})
	if err != nil {
		return nil, l.reject(model.SideSell, err)
	}

	l.executed(res)
	return res, nil
}

// MarketBuy buys at a freshly fetched price.
func (l *Ledger) MarketBuy(ctx context.Context, userID, sym string, shares decimal.Decimal) (*Result, error) {
	o, err := l.priceOrder(ctx, model.SideBuy, userID, sym, shares)
	if err != nil {
		return nil, err
	}
	return l.Buy(ctx, o)
}

// MarketSell sells at a freshly fetched price.
func (l *Ledger) MarketSell(ctx context.Context, userID, sym string, shares decimal.Decimal) (*Result, error) {
	o, err := l.priceOrder(ctx, model.SideSell, userID, sym, shares)
	if err != nil {
		return nil, err
	}
	return l.Sell(ctx, o)
}

// priceOrder validates the order and attaches the current price. Any lookup
// failure aborts before anything is locked or written.
func (l *Ledger) priceOrder(ctx context.Context, side, userID, sym string, shares decimal.Decimal) (Order, error) {
	o := Order{UserID: userID, Ticker: sym, Shares: shares}
	if err := validate(&o, false); err != nil {
		return Order{}, l.reject(side, err)
	}
	if l.prices == nil {
		return Order{}, l.reject(side, fmt.Errorf("%w: no price source configured", ErrQuoteUnavailable))
	}

	price, err := l.prices.LookupPrice(ctx, o.Ticker)
	if err != nil {
		return Order{}, l.reject(side, fmt.Errorf("%w: %s: %w", ErrQuoteUnavailable, o.Ticker, err))
	}
	if !price.IsPositive() {
		return Order{}, l.reject(side, fmt.Errorf("%w: %s: provider returned price %s", ErrQuoteUnavailable, o.Ticker, price))
	}
	o.Price = price
	return o, nil
}

// --- Queries ---

// Position returns the user's position in sym, or ErrPositionNotFound.
func (l *Ledger) Position(ctx context.Context, userID, sym string) (*model.Position, error) {
	t, err := ticker.Normalize(sym)
	if err != nil {
		return nil, &ValidationError{Field: "ticker", Reason: err.Error()}
	}
	p, err := l.store.GetPosition(ctx, userID, t)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, t)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get position", Err: err}
	}
	return p, nil
}

// Positions lists the user's open positions ordered by ticker.
func (l *Ledger) Positions(ctx context.Context, userID string) ([]model.Position, error) {
	positions, err := l.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "list positions", Err: err}
	}
	if positions == nil {
		positions = []model.Position{}
	}
	return positions, nil
}

// Trades returns the user's trade journal, oldest first.
func (l *Ledger) Trades(ctx context.Context, userID string) ([]model.Trade, error) {
	trades, err := l.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "list trades", Err: err}
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return trades, nil
}

// Balance returns the user's cash balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := l.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, &PersistenceError{Op: "get user", Err: err}
	}
	return u.Balance, nil
}

// --- Internals ---

// execute holds the user's lock around one transaction.
func (l *Ledger) execute(ctx context.Context, side, userID string, fn func(tx store.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	}()

	unlock, err := l.locker.Lock(ctx, userID)
	if err != nil {
		return &PersistenceError{Op: "lock user", Err: err}
	}
	defer unlock()

	if err := l.store.WithTx(ctx, fn); err != nil {
		if isDomain(err) {
			return err
		}
		return &PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

func (l *Ledger) reject(side string, err error) error {
	kind := Kind(err)
	metrics.TradeRejections.WithLabelValues(side, kind).Inc()
	if kind == "persistence" {
		l.log.Error("trade failed", "side", side, "err", err)
	} else {
		l.log.Info("trade rejected", "side", side, "reason", kind, "err", err)
	}
	return err
}

func (l *Ledger) executed(res *Result) {
	t := res.Trade
	metrics.TradesTotal.WithLabelValues(t.Side).Inc()
	metrics.TradeVolume.WithLabelValues(t.Ticker, t.Side).Add(t.Shares.InexactFloat64())

	l.log.Info("trade executed",
		"trade_id", t.ID,
		"user", t.UserID,
		"ticker", t.Ticker,
		"side", t.Side,
		"shares", t.Shares.String(),
		"price", t.Price.String(),
		"amount", t.Amount.String(),
		"realized_pnl", t.RealizedPnL.String(),
		"balance", res.Balance.String(),
	)
}

// validate normalizes the ticker and checks business preconditions.
func validate(o *Order, needPrice bool) error {
	if o.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}
	t, err := ticker.Normalize(o.Ticker)
	if err != nil {
		return &ValidationError{Field: "ticker", Reason: err.Error()}
	}
	o.Ticker = t
	if !o.Shares.IsPositive() {
		return &ValidationError{Field: "shares", Reason: "must be positive"}
	}
	if needPrice && !o.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "must be positive"}
	}
	return nil
}

func lockUser(ctx context.Context, tx store.Tx, userID string) (*model.User, error) {
	u, err := tx.LockUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "lock user", Err: err}
	}
	return u, nil
}

func getPosition(ctx context.Context, tx store.Tx, userID, sym string) (*model.Position, error) {
	p, err := tx.GetPosition(ctx, userID, sym)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, sym)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get position", Err: err}
	}
	return p, nil
}
