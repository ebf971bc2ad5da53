package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
)

func TestApplyBuy_NewPosition(t *testing.T) {
	now := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	p := ledger.ApplyBuy(nil, "user1", "AAPL", d(4), d(25), now)

	if !p.Shares.Equal(d(4)) || !p.CostBasis.Equal(d(100)) {
		t.Errorf("unexpected position: %+v", p)
	}
	if !p.OpenedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Errorf("timestamps not set: %+v", p)
	}
}

func TestApplyBuy_KeepsOpenedAt(t *testing.T) {
	opened := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := ledger.ApplyBuy(nil, "user1", "AAPL", d(1), d(10), opened)
	later := opened.Add(time.Hour)

	next := ledger.ApplyBuy(&prev, "user1", "AAPL", d(1), d(20), later)
	if !next.OpenedAt.Equal(opened) || !next.UpdatedAt.Equal(later) {
		t.Errorf("expected opened %v updated %v, got %+v", opened, later, next)
	}
	if !prev.Shares.Equal(d(1)) {
		t.Error("ApplyBuy must not modify prev")
	}
}

func TestApplySell(t *testing.T) {
	now := time.Now()
	pos := model.Position{UserID: "user1", Ticker: "AAPL", Shares: d(20), CostBasis: d(3000)}

	rest, removed := ledger.ApplySell(pos, d(5), now)
	if rest == nil {
		t.Fatal("expected remaining position")
	}
	if !removed.Equal(d(750)) {
		t.Errorf("expected 750 cost removed, got %s", removed)
	}
	if !rest.Shares.Equal(d(15)) || !rest.CostBasis.Equal(d(2250)) {
		t.Errorf("unexpected remainder: %+v", rest)
	}

	closed, removed := ledger.ApplySell(pos, d(20), now)
	if closed != nil {
		t.Errorf("expected nil after selling everything, got %+v", closed)
	}
	if !removed.Equal(d(3000)) {
		t.Errorf("expected the whole cost basis removed, got %s", removed)
	}
}

func TestUnrealizedPnL(t *testing.T) {
	pos := model.Position{Shares: d(15), CostBasis: d(2250)}

	tests := []struct {
		price float64
		want  float64
	}{
		{150, 0},
		{300, 2250},
		{100, -750},
	}
	for _, tt := range tests {
		got := ledger.UnrealizedPnL(pos, d(tt.price))
		if !got.Equal(d(tt.want)) {
			t.Errorf("UnrealizedPnL at %v = %s, want %v", tt.price, got, tt.want)
		}
	}

	ledger.UnrealizedPnL(pos, d(999))
	if !pos.Shares.Equal(d(15)) || !pos.CostBasis.Equal(d(2250)) {
		t.Error("UnrealizedPnL modified its input")
	}
}

func TestUnrealizedPnL_NoStateChange(t *testing.T) {
	l, ms, _ := newTestLedger(t, 10000)
	buy(t, l, "AAPL", 10, 100)
	before, _ := ms.GetPosition(context.Background(), "user1", "AAPL")

	ledger.UnrealizedPnL(*before, d(500))

	after, _ := ms.GetPosition(context.Background(), "user1", "AAPL")
	if !after.Shares.Equal(before.Shares) || !after.CostBasis.Equal(before.CostBasis) {
		t.Errorf("stored position changed: %+v -> %+v", before, after)
	}
}

// --- Cash account ---

func TestCashAccount(t *testing.T) {
	acct := ledger.NewCashAccount(&model.User{ID: "u", Balance: d(100)})

	if err := acct.Withdraw(d(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !acct.Balance().Equal(d(60)) {
		t.Errorf("expected 60, got %s", acct.Balance())
	}
	if err := acct.Deposit(d(15.5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !acct.Balance().Equal(d(75.5)) {
		t.Errorf("expected 75.5, got %s", acct.Balance())
	}

	if err := acct.Withdraw(d(100)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if !acct.Balance().Equal(d(75.5)) {
		t.Errorf("failed withdraw changed balance to %s", acct.Balance())
	}

	for _, amt := range []decimal.Decimal{d(0), d(-1)} {
		if err := acct.Deposit(amt); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("Deposit(%s): expected ErrValidation, got %v", amt, err)
		}
		if err := acct.Withdraw(amt); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("Withdraw(%s): expected ErrValidation, got %v", amt, err)
		}
	}
}

func TestValuate(t *testing.T) {
	l, _, prices := newTestLedger(t, 10000)
	buy(t, l, "AAPL", 10, 100)
	buy(t, l, "MSFT", 2, 500)
	buy(t, l, "NFLX", 1, 50)
	prices.SetPrice("AAPL", d(120))
	prices.SetPrice("MSFT", d(450))
	// NFLX has no quote.

	pf, err := l.Valuate(context.Background(), "user1")
	if err != nil {
		t.Fatalf("valuate: %v", err)
	}
	if len(pf.Positions) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(pf.Positions))
	}

	byTicker := map[string]model.Valuation{}
	for _, v := range pf.Positions {
		byTicker[v.Ticker] = v
	}
	if v := byTicker["AAPL"]; !v.PriceAvailable || !v.UnrealizedPnL.Equal(d(200)) || !v.MarketValue.Equal(d(1200)) {
		t.Errorf("unexpected AAPL valuation: %+v", v)
	}
	if v := byTicker["MSFT"]; !v.UnrealizedPnL.Equal(d(-100)) {
		t.Errorf("unexpected MSFT valuation: %+v", v)
	}
	if v := byTicker["NFLX"]; v.PriceAvailable || !v.AveragePrice.Equal(d(50)) {
		t.Errorf("expected NFLX without price, got %+v", v)
	}

	if !pf.Balance.Equal(d(7950)) {
		t.Errorf("expected balance 7950, got %s", pf.Balance)
	}
	if !pf.MarketValue.Equal(d(2100)) || !pf.UnrealizedPnL.Equal(d(100)) || !pf.TotalCost.Equal(d(2000)) {
		t.Errorf("unexpected totals: %+v", pf)
	}
	if !pf.Equity.Equal(d(10050)) {
		t.Errorf("expected equity 10050, got %s", pf.Equity)
	}
}

func TestValuatePosition_QuoteMissing(t *testing.T) {
	l, _, _ := newTestLedger(t, 10000)
	buy(t, l, "NFLX", 1, 50)

	_, err := l.ValuatePosition(context.Background(), "user1", "NFLX")
	if !errors.Is(err, ledger.ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable, got %v", err)
	}
}
