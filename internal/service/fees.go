package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/store"
)

// Fee exchange memo for reserve skims.
const reserveFeeNotes = "reserve fee"

// FeeEngine fans a committed ExchangeAndFee out into fee exchanges. Every fee
// is its own transaction: a failing fee is reported and the rest still run.
type FeeEngine struct {
	exchanges *ExchangeService
	prefs     Preferences
	log       *slog.Logger
}

// feeRun accumulates the fee exchanges charged on one base exchange.
type feeRun struct {
	engine  *FeeEngine
	base    *domain.Exchange
	created []*domain.Exchange
	errs    []error
}

func (r *feeRun) fail(step string, err error) {
	feeFailures.WithLabelValues(step).Inc()
	r.errs = append(r.errs, fmt.Errorf("%s: %w", step, err))
}

func (r *feeRun) charge(ctx context.Context, step string, x domain.Exchange) {
	x.Kind = domain.KindExchange
	x.GroupID = r.base.GroupID
	c, err := r.engine.exchanges.create(ctx, draft{x: x, feeOf: r.base.ID})
	if err != nil {
		r.fail(step, err)
		return
	}
	r.created = append(r.created, c.exchange)
}

func (r *feeRun) result(ctx context.Context) ([]*domain.Exchange, error) {
	if len(r.errs) == 0 {
		return r.created, nil
	}
	err := &domain.FeeApplicationError{ExchangeID: r.base.ID, Errs: r.errs}
	r.engine.log.ErrorContext(ctx, "fee application failed", "exchange_id", r.base.ID, "error", err)
	return r.created, err
}

// Apply charges, in order, the reserve skims, the worker's plan fees and
// the customer's plan fees. Plan fees only apply in the default group.
func (f *FeeEngine) Apply(ctx context.Context, base *domain.Exchange) ([]*domain.Exchange, error) {
	if base.WaveAllFees {
		return nil, nil
	}
	run := &feeRun{engine: f, base: base}
	st := f.exchanges.store

	reserves, err := st.ListReserveAccounts(ctx, base.GroupID)
	if err != nil {
		run.fail("reserve", err)
	}
	for _, acct := range reserves {
		if acct.PersonID == base.WorkerID {
			continue
		}
		amount := base.Amount.Mul(acct.ReservePercent).Round(2)
		if !amount.IsPositive() {
			continue
		}
		run.charge(ctx, "reserve", domain.Exchange{
			CustomerID: base.WorkerID,
			WorkerID:   acct.PersonID,
			Amount:     amount,
			Metadata:   base.Metadata,
			Notes:      reserveFeeNotes,
		})
	}

	if f.prefs.DefaultGroupID != 0 && base.GroupID == f.prefs.DefaultGroupID {
		f.planFees(ctx, run, "worker_plan", base.WorkerID)
		f.planFees(ctx, run, "customer_plan", base.CustomerID)
	}
	return run.result(ctx)
}

// planFees charges payerID the transaction fees of their plan, if any.
func (f *FeeEngine) planFees(ctx context.Context, run *feeRun, step string, payerID int64) {
	st := f.exchanges.store
	payer, err := st.GetPerson(ctx, payerID)
	if err != nil {
		run.fail(step, err)
		return
	}
	if payer.FeePlanID == nil {
		return
	}
	plan, err := st.GetFeePlan(ctx, *payer.FeePlanID)
	if err != nil {
		run.fail(step, err)
		return
	}

	for _, fee := range plan.TransactionFees() {
		amount := fee.Charge(run.base.Amount)
		if !amount.IsPositive() || fee.RecipientID == 0 || fee.RecipientID == payerID {
			continue
		}
		run.charge(ctx, step, domain.Exchange{
			CustomerID: payerID,
			WorkerID:   fee.RecipientID,
			Amount:     amount,
			Metadata:   domain.ExchangeRef(run.base.ID),
			Notes:      fee.Notes(),
		})
	}
}

// Cascade reverses every live fee exchange charged on base, stamping them
// with the base's deletion time.
func (f *FeeEngine) Cascade(ctx context.Context, base *domain.Exchange, at time.Time) ([]*domain.Exchange, error) {
	run := &feeRun{engine: f, base: base}

	fees, err := f.exchanges.store.ListFeeExchanges(ctx, base.ID)
	if err != nil {
		run.fail("cascade", err)
		return run.result(ctx)
	}
	for _, fee := range fees {
		x, _, err := f.exchanges.reverse(ctx, nil, fee.ID, at)
		if errors.Is(err, store.ErrNotFound) {
			// reversed concurrently
			continue
		}
		if err != nil {
			run.fail("cascade", err)
			continue
		}
		run.created = append(run.created, x)
	}
	return run.result(ctx)
}
