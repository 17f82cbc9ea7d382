// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	StageAttempts      *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheErrors prometheus.Counter

	// Chain metrics
	RPCCallLatency    *prometheus.HistogramVec
	BlockSearchProbes prometheus.Histogram
	RoundSearchProbes prometheus.Histogram
	HeadLag           prometheus.Gauge

	// Backfill metrics
	BackfillRunsTotal  *prometheus.CounterVec
	BackfillDuration   prometheus.Histogram
	BackfillDaysFilled prometheus.Counter
	BackfillDaysFailed prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulResolution prometheus.Gauge
	LastSuccessfulBackfill   prometheus.Gauge
	UptimeSeconds            prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_vitae"
	}

	return &Metrics{
		// Resolution metrics
		ResolutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total number of price resolutions by source and status",
		}, []string{"source", "status"}),
		ResolutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolution_duration_seconds",
			Help:      "Price resolution duration in seconds by source",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		StageAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "stage_attempts_total",
			Help:      "Total number of fallback stage attempts by stage and outcome",
		}, []string{"stage", "outcome"}),

		// Cache metrics
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of cache errors",
		}),

		// Chain metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ethereum RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		BlockSearchProbes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "block_search_probes",
			Help:      "Number of block probes per timestamp search",
			Buckets:   []float64{1, 5, 10, 15, 20, 25, 30, 40, 50},
		}),
		RoundSearchProbes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "round_search_probes",
			Help:      "Number of round probes per timestamp search",
			Buckets:   []float64{1, 5, 10, 15, 20, 25, 30, 40, 50},
		}),
		HeadLag: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "head_lag_seconds",
			Help:      "Seconds since the last new-head notification",
		}),

		// Backfill metrics
		BackfillRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of backfill runs by status",
		}, []string{"status"}),
		BackfillDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Backfill run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		BackfillDaysFilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "days_filled_total",
			Help:      "Total number of daily prices filled by backfill",
		}),
		BackfillDaysFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "days_failed_total",
			Help:      "Total number of daily prices skipped after failure",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"operation"}),

		// Health metrics
		LastSuccessfulResolution: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_resolution_timestamp",
			Help:      "Unix timestamp of last successful price resolution",
		}),
		LastSuccessfulBackfill: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_backfill_timestamp",
			Help:      "Unix timestamp of last successful backfill run",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordResolution records a completed price resolution.
func RecordResolution(source, status string, seconds float64) {
	DefaultMetrics.ResolutionsTotal.WithLabelValues(source, status).Inc()
	DefaultMetrics.ResolutionDuration.WithLabelValues(source).Observe(seconds)
}

// RecordStageAttempt records a fallback stage attempt.
func RecordStageAttempt(stage, outcome string) {
	DefaultMetrics.StageAttempts.WithLabelValues(stage, outcome).Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	DefaultMetrics.CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	DefaultMetrics.CacheMisses.Inc()
}

// RecordCacheError increments the cache error counter.
func RecordCacheError() {
	DefaultMetrics.CacheErrors.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordBlockSearch records the probe count of a block search.
func RecordBlockSearch(probes int) {
	DefaultMetrics.BlockSearchProbes.Observe(float64(probes))
}

// RecordRoundSearch records the probe count of an oracle round search.
func RecordRoundSearch(probes int) {
	DefaultMetrics.RoundSearchProbes.Observe(float64(probes))
}

// UpdateHeadLag updates the head lag gauge.
func UpdateHeadLag(seconds float64) {
	DefaultMetrics.HeadLag.Set(seconds)
}

// RecordBackfillRun records a backfill run.
func RecordBackfillRun(status string, durationSeconds float64) {
	DefaultMetrics.BackfillRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.BackfillDuration.Observe(durationSeconds)
}

// RecordBackfillDay records a single backfilled day.
func RecordBackfillDay(ok bool) {
	if ok {
		DefaultMetrics.BackfillDaysFilled.Inc()
	} else {
		DefaultMetrics.BackfillDaysFailed.Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}
