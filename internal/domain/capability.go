package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CapabilityAction string

const (
	ActionSinglePayment    CapabilityAction = "single_payment"
	ActionRecurringPayment CapabilityAction = "recurring_payment"
	ActionListPayments     CapabilityAction = "list_payments"
)

// Capability is a delegated-payment grant issued to a third-party client on
// behalf of PersonID. Token issuance lives elsewhere; the ledger only checks
// the grant and burns single-use ones.
type Capability struct {
	ID            int64               `json:"id"`
	PersonID      int64               `json:"person_id"`
	Action        CapabilityAction    `json:"action"`
	Asset         string              `json:"asset"`
	AmountCeiling decimal.NullDecimal `json:"amount_ceiling"`
	InvalidatedAt *time.Time          `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func (c *Capability) SingleUse() bool { return c.Action == ActionSinglePayment }

// Permits checks whether actorID may pay amount of asset under this grant.
func (c *Capability) Permits(actorID int64, asset string, amount decimal.Decimal) error {
	switch {
	case c.InvalidatedAt != nil:
		return Deny("capability has been invalidated")
	case c.PersonID != actorID:
		return Deny("capability belongs to another person")
	case c.Action != ActionSinglePayment && c.Action != ActionRecurringPayment:
		return Deny("capability scope does not allow payments")
	case c.Asset != "" && c.Asset != asset:
		return Deny("capability is for a different asset")
	case c.AmountCeiling.Valid && amount.GreaterThan(c.AmountCeiling.Decimal):
		return Deny("amount exceeds capability ceiling")
	}
	return nil
}
