package usecases

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pospay_payment_requests_created_total",
		Help: "Payment requests created",
	}, []string{"currency"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pospay_payment_request_transitions_total",
		Help: "Committed payment request status transitions",
	}, []string{"to", "source"})

	transitionConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pospay_payment_request_conflicts_total",
		Help: "Transitions rejected because another one committed first",
	}, []string{"attempted"})

	ledgerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pospay_ledger_failures_total",
		Help: "Ledger credit calls that failed and rolled back a settlement",
	})

	offlineSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pospay_offline_submissions_total",
		Help: "Offline payment submissions by result",
	}, []string{"result"})
)
