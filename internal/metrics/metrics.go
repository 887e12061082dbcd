// Package metrics exposes Prometheus collectors for the job crawler service.
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
	searchesTotal              *prometheus.CounterVec
	crawlsTotal                *prometheus.CounterVec
	crawlDurationSeconds       *prometheus.HistogramVec
	recordsExtractedTotal      prometheus.Counter
	listingsSkippedTotal       prometheus.Counter
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	rateLimitWaitSeconds       prometheus.Histogram
	cacheBytes                 prometheus.Gauge
	cacheEntries               prometheus.Gauge
	cacheEvictionsTotal        *prometheus.CounterVec
	cacheErrorsTotal           *prometheus.CounterVec
	proxyRequestsTotal         *prometheus.CounterVec
	warmupRunsTotal            *prometheus.CounterVec
	robotsFallbacksTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_searches_total",
				Help: "Total number of searches, labeled by outcome (hit, miss, error, invalid).",
			},
			[]string{"outcome"},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_crawls_total",
				Help: "Total number of crawls, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_crawl_duration_seconds",
				Help:    "Histogram of crawl durations, labeled by source.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"source"},
		)

		recordsExtractedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_records_extracted_total",
				Help: "Total number of unique job records extracted.",
			},
		)

		listingsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_listings_skipped_total",
				Help: "Total number of listings skipped because they could not be parsed.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_queue_depth",
				Help: "Number of crawl tasks waiting in the queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_rate_limit_wait_seconds",
				Help:    "Histogram of rate limiter wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		cacheBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_cache_bytes",
				Help: "Total serialized size of cached entries.",
			},
		)

		cacheEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_cache_entries",
				Help: "Number of cached search terms.",
			},
		)

		cacheEvictionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_cache_evictions_total",
				Help: "Total number of cache evictions, labeled by reason.",
			},
			[]string{"reason"},
		)

		cacheErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_cache_errors_total",
				Help: "Total number of cache I/O failures, labeled by operation.",
			},
			[]string{"op"},
		)

		proxyRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_proxy_requests_total",
				Help: "Total number of upstream proxy calls, labeled by endpoint and code.",
			},
			[]string{"endpoint", "code"},
		)

		warmupRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_warmup_runs_total",
				Help: "Total number of scheduled cache warmups, labeled by status.",
			},
			[]string{"status"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_robots_fallbacks_total",
				Help: "Total number of robots.txt probes answered with allow-all, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 90},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveSearch counts one pipeline search by outcome.
func ObserveSearch(outcome string) {
	Init()
	searchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCrawl records the result and duration of one source fetch.
func ObserveCrawl(source, status string, duration time.Duration) {
	Init()
	crawlsTotal.WithLabelValues(source, status).Inc()
	crawlDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveExtraction counts extracted records and skipped listings.
func ObserveExtraction(records, skipped int) {
	Init()
	recordsExtractedTotal.Add(float64(records))
	listingsSkippedTotal.Add(float64(skipped))
}

// SetQueueDepth reports the number of queued tasks.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitWaitSeconds.Observe(duration.Seconds())
}

// SetCacheUsage reports the cache occupancy.
func SetCacheUsage(entries int, bytes int64) {
	Init()
	cacheEntries.Set(float64(entries))
	cacheBytes.Set(float64(bytes))
}

// ObserveCacheEviction counts one evicted entry.
func ObserveCacheEviction(reason string) {
	Init()
	cacheEvictionsTotal.WithLabelValues(reason).Inc()
}

// ObserveCacheError counts one cache I/O failure.
func ObserveCacheError(op string) {
	Init()
	cacheErrorsTotal.WithLabelValues(op).Inc()
}

// ObserveProxyRequest counts one upstream proxy call.
func ObserveProxyRequest(endpoint string, code int) {
	Init()
	proxyRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveWarmup counts one scheduled warmup run.
func ObserveWarmup(status string) {
	Init()
	warmupRunsTotal.WithLabelValues(status).Inc()
}

// ObserveRobotsFallback counts one robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback(reason string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
