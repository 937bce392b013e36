package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AttemptsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_attempts_started_total",
		Help: "Execution attempts admitted past the risk gate",
	})

	AttemptsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_attempts_settled_total",
		Help: "Attempts that settled with a ledger update",
	})

	AttemptsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_attempts_failed_total",
		Help: "Attempts that ended in the Failed state",
	})

	RiskRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_risk_rejections_total",
		Help: "Triggers rejected before scanning (pause, gas ceiling, busy)",
	})

	NoOpportunity = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_no_opportunity_total",
		Help: "Scans that exhausted the pair space without a match",
	})

	OracleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_oracle_errors_total",
		Help: "Invalid or stale oracle reads",
	})

	LedgerTotalUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_ledger_total_usd",
		Help: "Cumulative realized profit (USD)",
	})

	GasPriceWei = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_gas_price_wei",
		Help: "Last gas price read from the gas oracle",
	})

	ScanLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_scan_latency_seconds",
		Help:    "Time to scan the monitored pair space",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		AttemptsStarted,
		AttemptsSettled,
		AttemptsFailed,
		RiskRejections,
		NoOpportunity,
		OracleErrors,
		LedgerTotalUSD,
		GasPriceWei,
		ScanLatency,
	)
}
