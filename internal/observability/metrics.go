package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain collectors. Label sets are small, fixed enums.
var (
	// AdmissionDecisions counts admission outcomes: "allowed", "banned" (an
	// existing ban), "breach" (a limiter breach in this request).
	AdmissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_admission_decisions_total",
			Help: "Admission decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// BansIssued counts persisted bans by source ("auto" or "admin").
	BansIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_bans_total",
			Help: "Bans persisted by source.",
		},
		[]string{"source"},
	)

	// BanExpiries counts lazy unbans performed on read.
	BanExpiries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_ban_expiries_total",
			Help: "Time-bounded bans cleared on read after expiry.",
		},
	)

	// Lookups counts dedup store and extraction cache lookups by result.
	Lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_lookups_total",
			Help: "Dedup and cache lookups by store and result.",
		},
		[]string{"store", "result"}, // store: dedup|cache, result: hit|miss|expired
	)

	// ReasonOutcomes counts ban reason generation by outcome.
	ReasonOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_reason_generation_total",
			Help: "Ban reason generation by outcome (remote, fallback).",
		},
		[]string{"outcome"},
	)

	// StoreWritesFailed counts advisory write-through failures.
	StoreWritesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_store_write_failures_total",
			Help: "Non-fatal persistence failures by store.",
		},
		[]string{"store"},
	)

	// PoolInflight gauges storage operations currently holding a worker slot.
	PoolInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_store_pool_inflight",
			Help: "Blocking storage operations currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AdmissionDecisions,
		BansIssued,
		BanExpiries,
		Lookups,
		ReasonOutcomes,
		StoreWritesFailed,
		PoolInflight,
	)
}
