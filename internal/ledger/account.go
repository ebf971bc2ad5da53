package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// Account is the cash side of the ledger. Buy and Sell only touch cash
// through this interface.
type Account interface {
	Balance() decimal.Decimal
	// Deposit adds a positive amount.
	Deposit(amount decimal.Decimal) error
	// Withdraw removes a positive amount; ErrInsufficientFunds if it exceeds
	// the balance, in which case the balance is unchanged.
	Withdraw(amount decimal.Decimal) error
}

// AccountOpener returns the Account for a locked user row.
type AccountOpener func(u *model.User) Account

// CashAccount keeps the balance on the User row itself.
type CashAccount struct {
	user *model.User
}

// NewCashAccount is the default AccountOpener.
func NewCashAccount(u *model.User) Account {
	return &CashAccount{user: u}
}

func (a *CashAccount) Balance() decimal.Decimal {
	return a.user.Balance
}

func (a *CashAccount) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	a.user.Balance = a.user.Balance.Add(amount)
	return nil
}

func (a *CashAccount) Withdraw(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount.GreaterThan(a.user.Balance) {
		return ErrInsufficientFunds
	}
	a.user.Balance = a.user.Balance.Sub(amount)
	return nil
}
