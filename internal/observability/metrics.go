package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	restRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcrest_requests_total",
			Help: "Total number of REST requests issued.",
		},
		[]string{"operation", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arcrest_upstream_latency_seconds",
			Help:    "Latency of upstream REST calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"operation"},
	)

	tokenAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcrest_token_acquisitions_total",
			Help: "Token acquisitions by flavor and outcome.",
		},
		[]string{"flavor", "outcome"},
	)

	tokenCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcrest_token_cache_results_total",
			Help: "Token cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	editRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcrest_edit_rows_total",
			Help: "Edited rows by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	queryPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arcrest_query_pages_total",
			Help: "Pages fetched by the query engine.",
		},
	)
)

func ObserveRequest(operation string, status int, durationSeconds float64) {
	restRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	upstreamLatencySeconds.WithLabelValues(operation).Observe(durationSeconds)
}

func IncTokenAcquired(flavor string) {
	tokenAcquisitionsTotal.WithLabelValues(flavor, "ok").Inc()
}

func IncTokenFailed(flavor string) {
	tokenAcquisitionsTotal.WithLabelValues(flavor, "error").Inc()
}

func IncTokenCacheHit() {
	tokenCacheResults.WithLabelValues("hit").Inc()
}

func IncTokenCacheMiss() {
	tokenCacheResults.WithLabelValues("miss").Inc()
}

func IncEditRows(kind string, ok, failed int) {
	if ok > 0 {
		editRowsTotal.WithLabelValues(kind, "ok").Add(float64(ok))
	}
	if failed > 0 {
		editRowsTotal.WithLabelValues(kind, "error").Add(float64(failed))
	}
}

func IncQueryPage() {
	queryPagesTotal.Inc()
}
