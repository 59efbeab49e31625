package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InitialBalance is the balance of a freshly provisioned account.
var InitialBalance = decimal.Zero

// Account represents a member's balance in one group's currency.
// A null CreditLimit means the account may go negative without bound.
type Account struct {
	ID             int64               `json:"id"`
	PersonID       int64               `json:"person_id"`
	GroupID        int64               `json:"group_id"`
	Name           string              `json:"name"`
	Balance        decimal.Decimal     `json:"balance"`
	CreditLimit    decimal.NullDecimal `json:"credit_limit"`
	Earned         decimal.Decimal     `json:"earned"`
	Paid           decimal.Decimal     `json:"paid"`
	Reserve        bool                `json:"reserve"`
	ReservePercent decimal.Decimal     `json:"reserve_percent"`
	CreatedAt      time.Time           `json:"created_at"`
}

// AvailableBalance is balance + credit_limit. ok is false when the credit
// limit is unlimited.
func (a *Account) AvailableBalance() (available decimal.Decimal, ok bool) {
	if !a.CreditLimit.Valid {
		return decimal.Decimal{}, false
	}
	return a.Balance.Add(a.CreditLimit.Decimal), true
}

// Cover returns an InsufficientBalanceError if withdrawing amount would break
// the credit limit.
func (a *Account) Cover(amount decimal.Decimal) error {
	available, limited := a.AvailableBalance()
	if limited && available.LessThan(amount) {
		return &InsufficientBalanceError{Available: available, Requested: amount}
	}
	return nil
}

func (a *Account) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	a.Balance = a.Balance.Add(amount)
	a.Earned = a.Earned.Add(amount)
	return nil
}

func (a *Account) Withdraw(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if err := a.Cover(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Sub(amount)
	a.Paid = a.Paid.Add(amount)
	return nil
}

// WithdrawAndDecrementEarned undoes a Deposit. The credit limit is not
// enforced: history must always be reversible. Earned is clamped at zero.
func (a *Account) WithdrawAndDecrementEarned(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	a.Balance = a.Balance.Sub(amount)
	a.Earned = clampZero(a.Earned.Sub(amount))
	return nil
}

// DepositAndDecrementPaid undoes a Withdraw. Paid is clamped at zero.
func (a *Account) DepositAndDecrementPaid(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	a.Balance = a.Balance.Add(amount)
	a.Paid = clampZero(a.Paid.Sub(amount))
	return nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
