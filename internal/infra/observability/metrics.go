package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Identity Metrics ───────────────────────────────────────────────────────

// IdentitiesBootstrapped counts first-touch profile + credits creations.
var IdentitiesBootstrapped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "identity",
	Name:      "bootstrapped_total",
	Help:      "Total anonymous identities bootstrapped.",
})

// IdentitiesMinted counts ids minted because the request carried none.
var IdentitiesMinted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "identity",
	Name:      "minted_total",
	Help:      "Total anonymous ids minted for requests without one.",
})

// BootstrapRaces counts bootstraps that lost a concurrent first-touch race.
var BootstrapRaces = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "identity",
	Name:      "bootstrap_races_total",
	Help:      "Total bootstraps that found the identity created concurrently.",
})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerEntries counts appended ledger entries by kind.
var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Total ledger entries appended by kind.",
}, []string{"kind"})

// LedgerVolume sums absolute credit amounts moved by kind.
var LedgerVolume = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "ledger",
	Name:      "volume_credits_total",
	Help:      "Sum of absolute credit amounts moved by kind.",
}, []string{"kind"})

// ─── Bonus Metrics ──────────────────────────────────────────────────────────

// BonusClaims counts daily bonus claim attempts by outcome
// (granted, rate_limited, already_claimed, error).
var BonusClaims = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "bonus",
	Name:      "claims_total",
	Help:      "Total daily bonus claim attempts by outcome.",
}, []string{"outcome"})

// ─── HTTP Metrics ───────────────────────────────────────────────────────────

// HTTPRequests counts handled requests by route pattern and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by method, route and status code.",
}, []string{"method", "route", "status"})

// HTTPLatency tracks request latency by route pattern.
var HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "anoncredits",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// HTTPRateLimited counts requests rejected by the per-client limiter.
var HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "anoncredits",
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Total requests rejected by the per-client rate limiter.",
})

// ─── Storage Metrics ────────────────────────────────────────────────────────

// StoreHealthy is 1 when the last storage health check passed.
var StoreHealthy = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "anoncredits",
	Subsystem: "store",
	Name:      "healthy",
	Help:      "Whether the last storage health check passed (1) or not (0).",
})

// RecordLedgerEntry updates the ledger counters for one appended entry.
func RecordLedgerEntry(kind string, amount int64) {
	if amount < 0 {
		amount = -amount
	}
	LedgerEntries.WithLabelValues(kind).Inc()
	LedgerVolume.WithLabelValues(kind).Add(float64(amount))
}
