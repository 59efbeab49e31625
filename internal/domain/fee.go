package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FeeKind string

const (
	FixedTransactionFee         FeeKind = "FixedTransactionFee"
	PercentTransactionFee       FeeKind = "PercentTransactionFee"
	RecurringFee                FeeKind = "RecurringFee"
	FixedTransactionStripeFee   FeeKind = "FixedTransactionStripeFee"
	PercentTransactionStripeFee FeeKind = "PercentTransactionStripeFee"
	RecurringStripeFee          FeeKind = "RecurringStripeFee"
)

// Stripe reports whether fees of this kind are settled by the card processor
// rather than on the ledger.
func (k FeeKind) Stripe() bool {
	switch k {
	case FixedTransactionStripeFee, PercentTransactionStripeFee, RecurringStripeFee:
		return true
	}
	return false
}

type FeeInterval string

const (
	IntervalNone  FeeInterval = ""
	IntervalMonth FeeInterval = "month"
	IntervalYear  FeeInterval = "year"
)

// MinimumStripeFee is the smallest fixed Stripe fee the processor accepts.
var MinimumStripeFee = decimal.RequireFromString("0.5")

// Fee is one rule of a fee plan. Trade-credit fees are paid to RecipientID on
// the ledger.
type Fee struct {
	ID          int64           `json:"id"`
	PlanID      int64           `json:"fee_plan_id"`
	Kind        FeeKind         `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Percent     decimal.Decimal `json:"percent"`
	Interval    FeeInterval     `json:"interval,omitempty"`
	RecipientID int64           `json:"recipient_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Charge is the fee owed on a transfer of base, rounded to cents.
func (f Fee) Charge(base decimal.Decimal) decimal.Decimal {
	switch f.Kind {
	case PercentTransactionFee, PercentTransactionStripeFee:
		return base.Mul(f.Percent).Round(2)
	default:
		return f.Amount.Round(2)
	}
}

// Notes is the memo written on the fee exchange.
func (f Fee) Notes() string {
	switch f.Kind {
	case FixedTransactionFee:
		return "fixed transaction fee"
	case PercentTransactionFee:
		return "percent transaction fee"
	case RecurringFee:
		return string(f.Interval) + "ly recurring fee"
	default:
		return "fee"
	}
}

func (f Fee) Validate() *ValidationError {
	ve := &ValidationError{}
	switch f.Kind {
	case FixedTransactionStripeFee:
		if !f.Amount.GreaterThan(MinimumStripeFee) {
			ve.Add("amount", "Minimal Stripe fee is 0.5$")
		}
	case FixedTransactionFee, RecurringFee, RecurringStripeFee:
		if !f.Amount.IsPositive() {
			ve.AddErr("amount", ErrNonPositiveAmount)
		}
	case PercentTransactionFee, PercentTransactionStripeFee:
		if !f.Percent.IsPositive() || f.Percent.GreaterThan(decimal.NewFromInt(1)) {
			ve.Add("percent", "must be between 0 and 1")
		}
	default:
		ve.Add("type", "is not a known fee type")
	}
	if (f.Kind == RecurringFee || f.Kind == RecurringStripeFee) && f.Interval != IntervalMonth && f.Interval != IntervalYear {
		ve.Add("interval", "must be month or year")
	}
	if !f.Kind.Stripe() && f.RecipientID == 0 {
		ve.Add("recipient", "can't be blank")
	}
	return ve
}

// FeePlan is a set of fee rules attached to a person.
type FeePlan struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Available   bool      `json:"available"`
	Fees        []Fee     `json:"fees"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p *FeePlan) AllFees() []Fee { return p.Fees }

func (p *FeePlan) ContainsStripeFees() bool {
	for _, f := range p.Fees {
		if f.Kind.Stripe() {
			return true
		}
	}
	return false
}

// TransactionFees are the ledger fees charged on every exchange.
func (p *FeePlan) TransactionFees() []Fee {
	var fees []Fee
	for _, f := range p.Fees {
		if f.Kind == FixedTransactionFee || f.Kind == PercentTransactionFee {
			fees = append(fees, f)
		}
	}
	return fees
}

// RecurringFees are the ledger fees charged once per interval.
func (p *FeePlan) RecurringFees(interval FeeInterval) []Fee {
	var fees []Fee
	for _, f := range p.Fees {
		if f.Kind == RecurringFee && f.Interval == interval {
			fees = append(fees, f)
		}
	}
	return fees
}

func (p *FeePlan) Validate() *ValidationError {
	ve := &ValidationError{}
	if p.Name == "" {
		ve.Add("name", "can't be blank")
	}
	for _, f := range p.Fees {
		if fe := f.Validate(); !fe.Empty() {
			ve.Errors = append(ve.Errors, fe.Errors...)
		}
	}
	return ve
}
