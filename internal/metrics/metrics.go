// Package metrics exposes the service's Prometheus counters, served on
// /metrics by the API process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckinsTotal counts accepted student check-ins.
	CheckinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_checkins_total",
		Help: "Accepted check-ins.",
	})

	// CheckoutsTotal counts accepted check-outs, split by self vs manual.
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_checkouts_total",
		Help: "Accepted check-outs.",
	}, []string{"kind"})

	// RejectionsTotal counts rejected submissions by gate or ledger reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_rejections_total",
		Help: "Rejected check-in/check-out attempts.",
	}, []string{"reason"})

	// SyncTotal counts remote mirror attempts by outcome.
	SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_remote_sync_total",
		Help: "Remote mirror attempts.",
	}, []string{"outcome"})

	// SessionsCreated counts admin session creations.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_created_total",
		Help: "Sessions created.",
	})
)
