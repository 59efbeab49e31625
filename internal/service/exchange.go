package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/models"
	"github.com/punchamoorthee/commonledger/internal/store"
)

var (
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

// ExchangeService creates and reverses exchanges. Each balance change runs in
// one store transaction that locks both accounts; fees and notices follow
// after the commit.
type ExchangeService struct {
	store    *store.Store
	gate     Gate
	notifier Notifier
	prefs    Preferences
	log      *slog.Logger
	fees     *FeeEngine
	now      func() time.Time
}

func NewExchangeService(st *store.Store, gate Gate, notifier Notifier, prefs Preferences, log *slog.Logger) *ExchangeService {
	s := &ExchangeService{
		store:    st,
		gate:     gate,
		notifier: notifier,
		prefs:    prefs,
		log:      log,
		now:      time.Now,
	}
	s.fees = &FeeEngine{exchanges: s, prefs: prefs, log: log}
	return s
}

// Outcome is the result of a create. FeeErr, when set, is a
// *domain.FeeApplicationError: the base exchange is committed regardless.
type Outcome struct {
	Exchange *domain.Exchange
	Entries  []domain.LedgerEntry
	Fees     []*domain.Exchange
	FeeErr   error
	// Replayed is set when the idempotency key was already completed; the
	// stored response should be returned verbatim.
	Replayed *models.IdempotencyRecord
}

// Create validates and commits a transfer from the customer (defaulting to
// the caller) to the worker, then runs the fee engine for ExchangeAndFee.
func (s *ExchangeService) Create(ctx context.Context, caller Caller, req models.ExchangeRequest, idempotencyKey, reqHash string) (*Outcome, error) {
	x := domain.Exchange{
		Kind:        req.Kind,
		CustomerID:  req.CustomerID,
		WorkerID:    req.WorkerID,
		GroupID:     req.GroupID,
		Amount:      req.Amount,
		Metadata:    domain.Metadata{Kind: req.MetadataType, ID: req.MetadataID},
		Notes:       req.Notes,
		WaveAllFees: req.WaveAllFees,
	}
	if x.Kind == "" {
		x.Kind = domain.KindExchangeAndFee
	}
	if x.CustomerID == 0 {
		x.CustomerID = caller.PersonID
	}

	c, err := s.create(ctx, draft{
		x:          x,
		offerCount: req.OfferCount,
		caller:     &caller,
		key:        idempotencyKey,
		hash:       callerHash(reqHash, caller),
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{Exchange: c.exchange, Entries: c.entries, Replayed: c.replay}
	if c.replay == nil && c.exchange.Kind == domain.KindExchangeAndFee {
		out.Fees, out.FeeErr = s.fees.Apply(ctx, c.exchange)
	}
	return out, nil
}

// callerHash binds a request hash to the caller, so a key replayed by another
// person or capability reads as a mismatched payload rather than a replay.
func callerHash(reqHash string, c Caller) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%d", reqHash, c.PersonID, c.CapabilityID))
	return hex.EncodeToString(sum[:])
}

// draft is one exchange to be committed by create.
type draft struct {
	x          domain.Exchange
	offerCount int
	// caller is nil for exchanges the ledger itself originates (fees), which
	// bypass the gate.
	caller *Caller
	// feeOf links the new exchange to the base exchange it was charged on.
	feeOf     int64
	key, hash string
}

type committed struct {
	exchange *domain.Exchange
	entries  []domain.LedgerEntry
	replay   *models.IdempotencyRecord
}

func (s *ExchangeService) create(ctx context.Context, d draft) (*committed, error) {
	x := d.x
	var (
		out    committed
		notice domain.PaymentNotice
	)

	err := s.store.InTx(ctx, func(q *store.Queries) error {
		// 1. Idempotency check
		if d.key != "" {
			rec, err := q.GetIdempotencyRecord(ctx, d.key)
			switch {
			case err == nil:
				if rec.RequestHash != d.hash {
					return ErrIdempotencyMismatch
				}
				if rec.Status != store.IdempotencyCompleted {
					return ErrIdempotencyConflict
				}
				out.replay = rec
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("idempotency query failed: %w", err)
			}
		}

		// 2. Invariants that need no lookups, plus the group itself
		ve := x.Validate()
		units := d.offerCount
		if units == 0 {
			units = 1
		}
		if units < 0 {
			ve.Add("offer_count", "must be greater than zero")
		}
		var (
			group   domain.Group
			groupOK bool
		)
		if x.GroupID != 0 {
			g, err := q.GetGroup(ctx, x.GroupID)
			switch {
			case err == nil:
				group, groupOK = g, true
			case errors.Is(err, store.ErrNotFound):
				ve.Add("group_id", "does not exist")
			default:
				return err
			}
		}

		// 3. Authorization. A malformed request skips the gate and reports
		// every violation below instead.
		if d.caller != nil && ve.Empty() {
			if err := s.gate.AuthorizeCreate(ctx, q, *d.caller, &x, group); err != nil {
				return err
			}
		}

		// 4. Parties, membership and currency
		var customer, worker domain.Person
		var err error
		if x.CustomerID != 0 {
			if customer, err = person(ctx, q, ve, "customer", x.CustomerID); err != nil {
				return err
			}
		}
		if x.WorkerID != 0 {
			if worker, err = person(ctx, q, ve, "worker", x.WorkerID); err != nil {
				return err
			}
		}
		partiesOK := ve.Empty()
		if groupOK {
			for _, p := range []struct {
				field string
				id    int64
			}{{"customer", x.CustomerID}, {"worker", x.WorkerID}} {
				if p.id == 0 {
					continue
				}
				m, err := q.GetMembership(ctx, p.id, x.GroupID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if err != nil || !m.Accepted() {
					ve.Add(p.field, "must be an accepted member of the group")
					partiesOK = false
				}
			}
			if !group.AdhocCurrency {
				ve.Add("group_id", "does not have its own currency")
			}
		}

		// 5. Metadata
		var meta string
		if x.Metadata.IsZero() || x.Metadata.Valid() {
			if meta, err = s.resolveMetadata(ctx, q, &x, ve, units, d.feeOf != 0); err != nil {
				return err
			}
		}

		// 6. Deterministic locking and the balance check
		var accounts map[int64]*domain.Account
		if partiesOK && groupOK {
			accounts, err = q.LockAccounts(ctx, x.GroupID, x.CustomerID, x.WorkerID)
			if errors.Is(err, store.ErrNotFound) {
				ve.Add("base", "both parties need an account in the group")
			} else if err != nil {
				return err
			} else if err := accounts[x.CustomerID].Cover(x.Amount); err != nil {
				ve.AddErr("amount", err)
			}
		}
		if err := ve.Err(); err != nil {
			return err
		}

		// 7. Idempotency reservation
		if d.key != "" {
			if err := q.ReserveIdempotencyKey(ctx, d.key, d.hash); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return ErrIdempotencyConflict
				}
				return err
			}
		}

		// 8. Execution
		if x.Metadata.IsZero() {
			r := &domain.Request{
				PersonID:       x.CustomerID,
				GroupID:        x.GroupID,
				Name:           meta,
				EstimatedHours: x.Amount,
			}
			if err := q.CreateRequest(ctx, r); err != nil {
				return err
			}
			x.Metadata = domain.RequestRef(r.ID)
		}
		if err := accounts[x.WorkerID].Deposit(x.Amount); err != nil {
			return err
		}
		if err := accounts[x.CustomerID].Withdraw(x.Amount); err != nil {
			return err
		}
		for _, id := range []int64{x.CustomerID, x.WorkerID} {
			if err := q.SaveBalances(ctx, accounts[id]); err != nil {
				return err
			}
		}

		if err := q.InsertExchange(ctx, &x); err != nil {
			return err
		}
		entries := []domain.LedgerEntry{
			{ExchangeID: x.ID, AccountID: accounts[x.CustomerID].ID, Delta: x.Amount.Neg(), CreatedAt: x.CreatedAt},
			{ExchangeID: x.ID, AccountID: accounts[x.WorkerID].ID, Delta: x.Amount, CreatedAt: x.CreatedAt},
		}
		if err := q.InsertEntries(ctx, entries); err != nil {
			return err
		}

		if x.Metadata.Kind == domain.MetadataOffer && d.feeOf == 0 {
			if err := q.DecrementOffer(ctx, x.Metadata.ID, units); err != nil {
				return err
			}
		}
		if d.caller != nil && d.caller.CapabilityID != 0 {
			if err := burnCapability(ctx, q, d.caller.CapabilityID, x.CreatedAt); err != nil {
				return err
			}
		}
		if d.feeOf != 0 {
			if err := q.LinkFee(ctx, d.feeOf, x.ID); err != nil {
				return err
			}
		}

		// 9. Finalize idempotency
		if d.key != "" {
			body, err := json.Marshal(models.ExchangeResponse{Exchange: x, Entries: entries})
			if err != nil {
				return err
			}
			if err := q.CompleteIdempotencyKey(ctx, d.key, x.ID, http.StatusCreated, body); err != nil {
				return err
			}
		}

		out.exchange = &x
		out.entries = entries
		notice = domain.PaymentNotice{Exchange: x, Group: group, Customer: customer, Worker: worker, MetadataName: meta}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransactionAborted) {
			exchangeAborts.Inc()
			s.log.WarnContext(ctx, "exchange transaction aborted", "group_id", x.GroupID, "error", err)
		}
		return nil, err
	}
	if out.replay != nil {
		return &out, nil
	}

	exchangesCreated.WithLabelValues(string(x.Kind)).Inc()
	s.log.InfoContext(ctx, "exchange created",
		"exchange_id", x.ID, "group_id", x.GroupID, "amount", x.Amount.String(), "fee_of", d.feeOf)

	dispatch(ctx, s.log, exchangeEvents(s.store, s.notifier, s.prefs, notice))
	return &out, nil
}

// resolveMetadata checks the referenced record and returns the name used in
// notices. Without metadata the name is the one the admin-transfer request
// will carry. Offer availability is not checked for fee exchanges, which
// share the base exchange's metadata.
func (s *ExchangeService) resolveMetadata(ctx context.Context, q *store.Queries, x *domain.Exchange, ve *domain.ValidationError, units int, fee bool) (string, error) {
	switch x.Metadata.Kind {
	case domain.MetadataNone:
		if x.Notes == "" {
			return domain.AdminTransferName, nil
		}
		return x.Notes, nil

	case domain.MetadataOffer:
		o, err := q.LockOffer(ctx, x.Metadata.ID)
		if errors.Is(err, store.ErrNotFound) {
			ve.Add("metadata", "offer does not exist")
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if !fee && o.AvailableCount < units {
			ve.Add("offer", fmt.Sprintf("only %d available", o.AvailableCount))
		}
		return o.Name, nil

	case domain.MetadataRequest:
		r, err := q.GetRequest(ctx, x.Metadata.ID)
		if errors.Is(err, store.ErrNotFound) {
			ve.Add("metadata", "request does not exist")
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return r.Name, nil

	case domain.MetadataExchange:
		e, err := q.GetExchange(ctx, x.Metadata.ID)
		if errors.Is(err, store.ErrNotFound) {
			ve.Add("metadata", "exchange does not exist")
			return "", nil
		}
		if err != nil {
			return "", err
		}
		w, err := q.GetPerson(ctx, e.WorkerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		return w.DisplayName(), nil
	}
	return "", nil
}

func person(ctx context.Context, q *store.Queries, ve *domain.ValidationError, field string, id int64) (domain.Person, error) {
	p, err := q.GetPerson(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		ve.Add(field, "does not exist")
		return p, nil
	}
	if err != nil {
		return p, err
	}
	if p.Deactivated {
		ve.Add(field, "is deactivated")
	}
	return p, nil
}

func burnCapability(ctx context.Context, q *store.Queries, id int64, at time.Time) error {
	c, err := q.GetCapability(ctx, id)
	if err != nil {
		return err
	}
	if !c.SingleUse() {
		return nil
	}
	if err := q.InvalidateCapability(ctx, id, at); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Deny("capability has been invalidated")
		}
		return err
	}
	return nil
}

// Reversal is the result of a destroy.
type Reversal struct {
	Exchange *domain.Exchange
	Entries  []domain.LedgerEntry
	Fees     []*domain.Exchange
	FeeErr   error
}

// Destroy soft-deletes an exchange, reverses both balances and then
// reverses every fee charged on it with the same deletion time.
func (s *ExchangeService) Destroy(ctx context.Context, caller Caller, id int64) (*Reversal, error) {
	at := s.now().UTC()
	x, entries, err := s.reverse(ctx, &caller, id, at)
	if err != nil {
		return nil, err
	}
	out := &Reversal{Exchange: x, Entries: entries}
	out.Fees, out.FeeErr = s.fees.Cascade(ctx, x, at)
	return out, nil
}

func (s *ExchangeService) reverse(ctx context.Context, caller *Caller, id int64, at time.Time) (*domain.Exchange, []domain.LedgerEntry, error) {
	var (
		x       *domain.Exchange
		entries []domain.LedgerEntry
	)
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		x, err = q.GetExchange(ctx, id)
		if err != nil {
			return err
		}
		if x.Deleted() {
			return fmt.Errorf("exchange %d already deleted: %w", id, store.ErrNotFound)
		}
		if caller != nil {
			if err := s.gate.AuthorizeDestroy(ctx, q, *caller, x); err != nil {
				return err
			}
		}

		if err := q.SoftDeleteExchange(ctx, id, at); err != nil {
			return err
		}

		accounts, err := q.LockAccounts(ctx, x.GroupID, x.CustomerID, x.WorkerID)
		if err != nil {
			return err
		}
		worker, customer := accounts[x.WorkerID], accounts[x.CustomerID]
		if err := worker.WithdrawAndDecrementEarned(x.Amount); err != nil {
			return err
		}
		if err := customer.DepositAndDecrementPaid(x.Amount); err != nil {
			return err
		}
		for _, a := range []*domain.Account{customer, worker} {
			if err := q.SaveBalances(ctx, a); err != nil {
				return err
			}
		}

		entries = []domain.LedgerEntry{
			{ExchangeID: x.ID, AccountID: worker.ID, Delta: x.Amount.Neg(), CreatedAt: at},
			{ExchangeID: x.ID, AccountID: customer.ID, Delta: x.Amount, CreatedAt: at},
		}
		if err := q.InsertEntries(ctx, entries); err != nil {
			return err
		}

		// The admin-transfer request only exists to carry this exchange.
		if x.Metadata.Kind == domain.MetadataRequest && !x.IsFee() {
			r, err := q.GetRequest(ctx, x.Metadata.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			case !r.Biddable:
				if err := q.DeleteRequest(ctx, r.ID); err != nil {
					return err
				}
			}
		}

		x.DeletedAt = &at
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransactionAborted) {
			exchangeAborts.Inc()
		}
		return nil, nil, err
	}

	exchangesReversed.Inc()
	s.log.InfoContext(ctx, "exchange reversed", "exchange_id", x.ID, "group_id", x.GroupID)
	return x, entries, nil
}

// Get returns an exchange with its ledger legs, including reversal legs.
func (s *ExchangeService) Get(ctx context.Context, id int64) (*domain.Exchange, []domain.LedgerEntry, error) {
	x, err := s.store.GetExchange(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.store.ListExchangeEntries(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return x, entries, nil
}
