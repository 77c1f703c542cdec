package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedguard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedguard_http_in_flight_requests",
			Help: "Requests currently being served",
		},
	)

	// WAFBlocks counts requests rejected by the pattern scanner, by category.
	WAFBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_waf_blocks_total",
			Help: "Total number of requests blocked by the pattern scanner",
		},
		[]string{"category", "source"},
	)

	// QuotaDecisions counts quota evaluations by action and result (allow|deny|error).
	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_quota_decisions_total",
			Help: "Total number of daily quota decisions",
		},
		[]string{"action", "result"},
	)

	// AuditDrops counts best-effort audit events that failed to persist.
	AuditDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedguard_audit_drops_total",
			Help: "Audit events that could not be recorded",
		},
	)

	// Notifications counts notification candidates by outcome.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_notifications_total",
			Help: "Notification candidates by outcome",
		},
		[]string{"outcome"},
	)

	// TrendingRuns counts ranker runs by result (success|partial|failure).
	TrendingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_trending_runs_total",
			Help: "Trending ranker runs by result",
		},
		[]string{"result"},
	)

	TrendingUpdated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedguard_trending_last_updated_items",
			Help: "Number of items updated by the most recent trending run",
		},
	)

	TrendingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedguard_trending_run_seconds",
			Help:    "Duration of trending ranker runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	// CacheLookups counts expiring cache reads by result (hit|miss|expired).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_cache_lookups_total",
			Help: "Expiring cache lookups by result",
		},
		[]string{"result"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedguard_cache_evictions_total",
			Help: "Entries evicted from the expiring cache under capacity pressure",
		},
	)

	// StoreRetries counts store calls that needed a second attempt.
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_store_retries_total",
			Help: "Store calls retried after a transient failure",
		},
		[]string{"op"},
	)
)
