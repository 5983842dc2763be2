package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletsync_ledger_requests_total",
		Help: "Requests made to the ledger service",
	}, []string{"op", "result"})

	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walletsync_ledger_request_duration_seconds",
		Help:    "Ledger request latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
	}, []string{"op"})

	BalanceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletsync_balance_refreshes_total",
		Help: "Balance refresh outcomes (applied, unchanged, stale, failed)",
	}, []string{"result"})

	HistoryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletsync_history_refreshes_total",
		Help: "History refresh outcomes (applied, stale, failed)",
	}, []string{"result"})

	DepositSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletsync_deposit_submissions_total",
		Help: "Deposit submission outcomes (succeeded, failed, invalid, duplicate)",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletsync_active_sessions",
		Help: "Wallet sessions currently open",
	})
)
