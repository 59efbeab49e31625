package service

import (
	"context"
	"log/slog"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/store"
)

// Notifier delivers best-effort notices after a commit. Its failures never
// affect the ledger.
type Notifier interface {
	PaymentReceived(ctx context.Context, n domain.PaymentNotice) error
	FeeCharged(ctx context.Context, n domain.PaymentNotice) error
	MembershipAccepted(ctx context.Context, n domain.MembershipNotice) error
}

// event is one post-commit side effect.
type event struct {
	kind string
	run  func(ctx context.Context) error
}

// dispatch runs events in order. A failing event is logged and counted and
// the remaining events still run.
func dispatch(ctx context.Context, log *slog.Logger, events []event) {
	for _, ev := range events {
		if err := ev.run(ctx); err != nil {
			notificationFailures.WithLabelValues(ev.kind).Inc()
			log.WarnContext(ctx, "post-commit event failed", "event", ev.kind, "error", err)
		}
	}
}

// exchangeEvents builds the post-commit list for a created exchange:
// activity, then payment notice, then fee notice. The activity is
// attributed to the worker, who did the work being recorded.
func exchangeEvents(st *store.Store, notifier Notifier, prefs Preferences, n domain.PaymentNotice) []event {
	x := n.Exchange
	var events []event

	if !n.Group.PrivateTxns {
		events = append(events, event{kind: "activity", run: func(ctx context.Context) error {
			return st.CreateActivity(ctx, &domain.Activity{
				ItemType: "Exchange",
				ItemID:   x.ID,
				PersonID: x.WorkerID,
				GroupID:  x.GroupID,
			})
		}})
	}

	if notifier == nil || !prefs.EmailNotifications {
		return events
	}
	if !x.IsFee() {
		events = append(events, event{kind: "payment_notice", run: func(ctx context.Context) error {
			return notifier.PaymentReceived(ctx, n)
		}})
	} else {
		events = append(events, event{kind: "fee_notice", run: func(ctx context.Context) error {
			return notifier.FeeCharged(ctx, n)
		}})
	}
	return events
}
