// Package metrics exposes Prometheus collectors for the crawl and dedup stages.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            prometheus.Counter
	commitDurationSeconds      *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	filesHashedTotal           *prometheus.CounterVec
	pairsComparedTotal         prometheus.Counter
	pairsMatchedTotal          prometheus.Counter
	dedupClusters              prometheus.Gauge
	dedupFiles                 prometheus.Gauge
	providerHitsTotal          *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter
	rateLimitWaitSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swdedup_fetch_total",
				Help: "Total number of script fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swdedup_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swdedup_fetch_bytes_total",
				Help: "Total number of script bytes downloaded.",
			},
		)

		commitDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swdedup_commit_duration_seconds",
				Help:    "Time spent inside the serialized index commit, labeled by outcome.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "swdedup_active_workers",
				Help: "Number of crawl workers currently fetching.",
			},
		)

		filesHashedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swdedup_files_hashed_total",
				Help: "Files processed by the similarity hasher, labeled by result.",
			},
			[]string{"result"},
		)

		pairsComparedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swdedup_pairs_compared_total",
				Help: "Digest pairs scored during all-pairs comparison.",
			},
		)

		pairsMatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swdedup_pairs_matched_total",
				Help: "Digest pairs at or above the similarity threshold.",
			},
		)

		dedupClusters = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "swdedup_clusters",
				Help: "Clusters produced by the last dedup run.",
			},
		)

		dedupFiles = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "swdedup_deduplicated_files",
				Help: "Size of the deduplicated set produced by the last dedup run.",
			},
		)

		providerHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swdedup_provider_hits_total",
				Help: "Deduplicated files matching a known provider, labeled by provider.",
			},
			[]string{"provider"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swdedup_robots_fallback_total",
				Help: "robots.txt probes that timed out and fell back to allow-all.",
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swdedup_rate_limit_wait_seconds",
				Help:    "Time fetches spent waiting on the per-host rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swdedup_http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swdedup_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(outcome string, duration time.Duration, bytesFetched int) {
	Init()
	fetchTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveCommit records the time one outcome spent in the commit section.
func ObserveCommit(outcome string, duration time.Duration) {
	Init()
	commitDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHashed records one file handled by the hasher; result is "digest" or "no_digest".
func ObserveHashed(result string) {
	Init()
	filesHashedTotal.WithLabelValues(result).Inc()
}

// ObservePairs records how many pairs were scored and how many matched.
func ObservePairs(compared, matched int) {
	Init()
	pairsComparedTotal.Add(float64(compared))
	pairsMatchedTotal.Add(float64(matched))
}

// ObserveDedup records the shape of the latest dedup run.
func ObserveDedup(clusters, deduplicated int) {
	Init()
	dedupClusters.Set(float64(clusters))
	dedupFiles.Set(float64(deduplicated))
}

// ObserveProviderHit records a provider match in a deduplicated file.
func ObserveProviderHit(provider string) {
	Init()
	providerHitsTotal.WithLabelValues(provider).Inc()
}

// ObserveRobotsFallback counts a robots.txt probe answered with allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveRateLimitWait records a delay introduced by the per-host limiter.
func ObserveRateLimitWait(waited time.Duration) {
	Init()
	rateLimitWaitSeconds.Observe(waited.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
