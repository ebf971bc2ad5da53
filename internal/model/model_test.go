package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAveragePrice_Derived(t *testing.T) {
	p := Position{
		Shares:    decimal.NewFromInt(20),
		CostBasis: decimal.NewFromInt(3000),
	}
	if !p.AveragePrice().Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected average 150, got %s", p.AveragePrice())
	}
}

func TestAveragePrice_ZeroShares(t *testing.T) {
	p := Position{CostBasis: decimal.NewFromInt(10)}
	if !p.AveragePrice().IsZero() {
		t.Errorf("expected zero average for empty position, got %s", p.AveragePrice())
	}
}
