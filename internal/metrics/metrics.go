// Package metrics declares the engine's Prometheus collectors. They are
// registered with the default registry on import.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "trading_engine"

var (
	LedgerApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transactions_total",
			Help:      "Transactions applied to balances, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	CacheFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fallbacks_total",
			Help:      "Reads served from the store because the cache missed or failed.",
		},
		[]string{"entity", "reason"},
	)
	CacheWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_failures_total",
			Help:      "Cache writes that failed after a successful store write.",
		},
		[]string{"entity"},
	)
	LockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Lock acquisitions skipped because the lock was held or unreachable.",
		},
		[]string{"lock", "reason"},
	)
	StopLossEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_loss_evaluations_total",
			Help:      "Stop-loss evaluations by result.",
		},
		[]string{"result"},
	)
	RiskTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_triggers_total",
			Help:      "Risk rules that fired, by rule.",
		},
		[]string{"rule"},
	)
	OracleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_oracle_errors_total",
			Help:      "Price lookups that failed, by kind.",
		},
		[]string{"kind"},
	)
	MonitorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_tick_duration_seconds",
			Help:      "Time taken to evaluate all open positions once.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions seen by the last monitor tick.",
		},
	)
	SwapsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_executed_total",
			Help:      "Swaps sent to the executor, by reason and outcome.",
		},
		[]string{"reason", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerApplied,
		CacheFallbacks,
		CacheWriteFailures,
		LockContention,
		StopLossEvaluations,
		RiskTriggers,
		OracleErrors,
		MonitorTickDuration,
		OpenPositions,
		SwapsExecuted,
	)
}
