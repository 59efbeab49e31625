package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MetadataKind tags what an exchange was created for. The values are the
// persisted metadata_type strings.
type MetadataKind string

const (
	MetadataNone     MetadataKind = ""
	MetadataOffer    MetadataKind = "Offer"
	MetadataRequest  MetadataKind = "Req"
	MetadataExchange MetadataKind = "Exchange"
)

// Metadata is a typed reference to an Offer, Request or Exchange.
type Metadata struct {
	Kind MetadataKind `json:"type,omitempty"`
	ID   int64        `json:"id,omitempty"`
}

func OfferRef(id int64) Metadata    { return Metadata{Kind: MetadataOffer, ID: id} }
func RequestRef(id int64) Metadata  { return Metadata{Kind: MetadataRequest, ID: id} }
func ExchangeRef(id int64) Metadata { return Metadata{Kind: MetadataExchange, ID: id} }

func (m Metadata) IsZero() bool { return m.Kind == MetadataNone }

// Valid reports whether Kind is one of the known variants and carries an id.
func (m Metadata) Valid() bool {
	switch m.Kind {
	case MetadataOffer, MetadataRequest, MetadataExchange:
		return m.ID > 0
	default:
		return false
	}
}

// ExchangeKind distinguishes exchanges that trigger the fee engine.
type ExchangeKind string

const (
	KindExchange       ExchangeKind = "Exchange"
	KindExchangeAndFee ExchangeKind = "ExchangeAndFee"
)

func (k ExchangeKind) Valid() bool {
	return k == KindExchange || k == KindExchangeAndFee
}

// AdminTransferName names the request generated for an exchange created
// without metadata and without notes.
const AdminTransferName = "admin transfer"

// Exchange is a value transfer from Customer to Worker in Group's currency.
// It is immutable apart from the soft-delete timestamp.
type Exchange struct {
	ID          int64           `json:"id"`
	Kind        ExchangeKind    `json:"kind"`
	CustomerID  int64           `json:"customer_id"`
	WorkerID    int64           `json:"worker_id"`
	GroupID     int64           `json:"group_id"`
	Amount      decimal.Decimal `json:"amount"`
	Metadata    Metadata        `json:"metadata"`
	Notes       string          `json:"notes,omitempty"`
	WaveAllFees bool            `json:"wave_all_fees"`
	CreatedAt   time.Time       `json:"created_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// IsFee reports whether the exchange is a fee charge, signalled by its notes.
func (e *Exchange) IsFee() bool {
	return strings.Contains(e.Notes, "fee")
}

func (e *Exchange) Deleted() bool { return e.DeletedAt != nil }

// Validate checks the invariants that need no lookups. Missing metadata is
// not an error here: the engine attaches an admin-transfer request.
func (e *Exchange) Validate() *ValidationError {
	ve := &ValidationError{}
	if !e.Kind.Valid() {
		ve.Add("kind", "is not included in the list")
	}
	if e.CustomerID == 0 {
		ve.Add("customer", "can't be blank")
	}
	if e.WorkerID == 0 {
		ve.Add("worker", "can't be blank")
	}
	if e.GroupID == 0 {
		ve.Add("group_id", "can't be blank")
	}
	if !e.Metadata.IsZero() && !e.Metadata.Valid() {
		ve.Add("metadata", "is invalid")
	}
	if !e.Amount.IsPositive() {
		ve.AddErr("amount", ErrNonPositiveAmount)
	}
	if e.CustomerID != 0 && e.CustomerID == e.WorkerID {
		ve.Add("worker", "cannot be the payer")
	}
	return ve
}

// LedgerEntry is one leg of an exchange. The deltas recorded for an exchange
// always sum to zero; a reversal appends compensating legs.
type LedgerEntry struct {
	ID         int64           `json:"id"`
	ExchangeID int64           `json:"exchange_id"`
	AccountID  int64           `json:"account_id"`
	Delta      decimal.Decimal `json:"delta"`
	CreatedAt  time.Time       `json:"created_at"`
}
