package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Person is a community member as seen by the ledger.
type Person struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	BusinessName string    `json:"business_name,omitempty"`
	Deactivated  bool      `json:"deactivated"`
	FeePlanID    *int64    `json:"fee_plan_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DisplayName prefers the business name.
func (p Person) DisplayName() string {
	if p.BusinessName != "" {
		return p.BusinessName
	}
	return p.Name
}

type GroupMode int

const (
	GroupPublic GroupMode = iota
	GroupPrivate
	GroupClosed
)

// Group defines a community and, when AdhocCurrency is set, its currency.
type Group struct {
	ID                 int64               `json:"id"`
	Name               string              `json:"name"`
	Unit               string              `json:"unit"`
	Asset              string              `json:"asset"`
	Mode               GroupMode           `json:"mode"`
	OwnerID            int64               `json:"owner_id"`
	AdhocCurrency      bool                `json:"adhoc_currency"`
	PrivateTxns        bool                `json:"private_txns"`
	DefaultCreditLimit decimal.NullDecimal `json:"default_credit_limit"`
	DefaultRoles       RoleSet             `json:"default_roles"`
	CreatedAt          time.Time           `json:"created_at"`
}

// Offer is something a member offers for sale, in limited quantity.
type Offer struct {
	ID             int64           `json:"id"`
	PersonID       int64           `json:"person_id"`
	GroupID        int64           `json:"group_id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	AvailableCount int             `json:"available_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Request asks for work. Non-biddable requests only exist to carry an
// exchange created without other metadata.
type Request struct {
	ID             int64           `json:"id"`
	PersonID       int64           `json:"person_id"`
	GroupID        int64           `json:"group_id"`
	Name           string          `json:"name"`
	EstimatedHours decimal.Decimal `json:"estimated_hours"`
	DueDate        time.Time       `json:"due_date"`
	Biddable       bool            `json:"biddable"`
	CreatedAt      time.Time       `json:"created_at"`
}
