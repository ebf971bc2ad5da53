package trade

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	wholeFormatter = money.NewFormatter(0, ".", ",", "", "1")
	centsFormatter = money.NewFormatter(2, ".", ",", "", "1")
	hundred        = decimal.NewFromInt(100)
)

// FormatAmount renders an amount for display: whole numbers get thousands
// separators and no decimals ("1,000,000"), anything else is rounded to
// cents ("1,234.50"). The stored value is never rounded.
func FormatAmount(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign, d = "-", d.Neg()
	}
	if d.Equal(d.Truncate(0)) {
		return sign + wholeFormatter.Format(d.IntPart())
	}
	return sign + centsFormatter.Format(d.Round(2).Mul(hundred).IntPart())
}
