package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

// ExchangeRequest is the payload from the client. CustomerID defaults to the
// acting person and Kind to ExchangeAndFee.
type ExchangeRequest struct {
	Kind         domain.ExchangeKind `json:"kind,omitempty"`
	CustomerID   int64               `json:"customer_id"`
	WorkerID     int64               `json:"worker_id"`
	GroupID      int64               `json:"group_id"`
	Amount       decimal.Decimal     `json:"amount"`
	MetadataType domain.MetadataKind `json:"metadata_type"`
	MetadataID   int64               `json:"metadata_id"`
	OfferCount   int                 `json:"offer_count"`
	Notes        string              `json:"notes"`
	WaveAllFees  bool                `json:"wave_all_fees"`
}

// ExchangeResponse is the canonical response structure.
type ExchangeResponse struct {
	Exchange domain.Exchange      `json:"exchange"`
	Entries  []domain.LedgerEntry `json:"entries"`
}

type ReserveRequest struct {
	Reserve        bool            `json:"reserve"`
	ReservePercent decimal.Decimal `json:"reserve_percent"`
}

type MembershipRequest struct {
	PersonID int64 `json:"person_id"`
	SendMail *bool `json:"send_mail,omitempty"`
}

type RolesRequest struct {
	Roles []string `json:"roles"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Details []domain.FieldError `json:"details,omitempty"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ExchangeID     int64
	ResponseBody   json.RawMessage
	ResponseStatus int
}

type CreditLimitRequest struct {
	DefaultCreditLimit decimal.NullDecimal `json:"default_credit_limit"`
}

type CreditLimitResponse struct {
	GroupID         int64 `json:"group_id"`
	AccountsUpdated int64 `json:"accounts_updated"`
}
