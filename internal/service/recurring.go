package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

// RecurringFees bills the monthly and yearly trade-credit fees of every
// fee plan in the default group.
type RecurringFees struct {
	exchanges *ExchangeService
	prefs     Preferences
	log       *slog.Logger
	cron      *cron.Cron
}

func NewRecurringFees(exchanges *ExchangeService, prefs Preferences, log *slog.Logger) *RecurringFees {
	return &RecurringFees{exchanges: exchanges, prefs: prefs, log: log}
}

// Start schedules the billing runs. Overlapping runs of the same interval
// are skipped.
func (r *RecurringFees) Start() error {
	r.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	schedules := []struct {
		expr     string
		interval domain.FeeInterval
	}{
		{"@monthly", domain.IntervalMonth},
		{"@yearly", domain.IntervalYear},
	}
	for _, sc := range schedules {
		interval := sc.interval
		if _, err := r.cron.AddFunc(sc.expr, func() {
			if _, err := r.Charge(context.Background(), interval); err != nil {
				r.log.Error("recurring fee run failed", "interval", interval, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule %s fees: %w", interval, err)
		}
	}
	r.cron.Start()
	r.log.Info("recurring fee scheduler started")
	return nil
}

// Stop waits for a running billing run to finish or ctx to expire.
func (r *RecurringFees) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Charge bills every recurring fee of the given interval once and returns
// the fee exchanges created. Failures for one person do not stop the run.
func (r *RecurringFees) Charge(ctx context.Context, interval domain.FeeInterval) ([]*domain.Exchange, error) {
	if r.prefs.DefaultGroupID == 0 {
		recurringFeeRuns.WithLabelValues(string(interval), "skipped").Inc()
		return nil, nil
	}

	st := r.exchanges.store
	people, err := st.ListPeopleWithFeePlan(ctx)
	if err != nil {
		recurringFeeRuns.WithLabelValues(string(interval), "failed").Inc()
		return nil, err
	}

	var (
		created []*domain.Exchange
		errs    []error
	)
	for _, p := range people {
		plan, err := st.GetFeePlan(ctx, *p.FeePlanID)
		if err != nil {
			errs = append(errs, fmt.Errorf("person %d: %w", p.ID, err))
			continue
		}
		for _, fee := range plan.RecurringFees(interval) {
			if fee.RecipientID == 0 || fee.RecipientID == p.ID {
				continue
			}
			c, err := r.exchanges.create(ctx, draft{x: domain.Exchange{
				Kind:       domain.KindExchange,
				CustomerID: p.ID,
				WorkerID:   fee.RecipientID,
				GroupID:    r.prefs.DefaultGroupID,
				Amount:     fee.Charge(fee.Amount),
				Notes:      fee.Notes(),
			}})
			if err != nil {
				feeFailures.WithLabelValues("recurring").Inc()
				errs = append(errs, fmt.Errorf("person %d fee %d: %w", p.ID, fee.ID, err))
				continue
			}
			created = append(created, c.exchange)
		}
	}

	outcome := "ok"
	if len(errs) > 0 {
		outcome = "partial"
	}
	recurringFeeRuns.WithLabelValues(string(interval), outcome).Inc()
	r.log.InfoContext(ctx, "recurring fees charged", "interval", interval, "charged", len(created), "failed", len(errs))
	return created, errors.Join(errs...)
}
