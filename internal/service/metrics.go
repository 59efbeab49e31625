package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exchangesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_exchanges_created_total",
			Help: "Committed exchanges by kind.",
		},
		[]string{"kind"},
	)

	exchangesReversed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_exchanges_reversed_total",
			Help: "Exchanges soft-deleted and reversed.",
		},
	)

	exchangeAborts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_exchange_aborts_total",
			Help: "Balance transactions aborted by serialization failures or deadlocks.",
		},
	)

	feeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_fee_failures_total",
			Help: "Fee exchanges that failed after their base exchange committed.",
		},
		[]string{"step"},
	)

	notificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_notification_failures_total",
			Help: "Post-commit events that failed.",
		},
		[]string{"kind"},
	)

	recurringFeeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_recurring_fee_runs_total",
			Help: "Recurring fee billing runs.",
		},
		[]string{"interval", "outcome"},
	)
)
