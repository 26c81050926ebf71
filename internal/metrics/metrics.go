// Package metrics exposes Prometheus collectors for the domain mapper.
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
	itemsTotal                 *prometheus.CounterVec
	claimsTotal                prometheus.Counter
	claimBatchSize             prometheus.Histogram
	reclaimedTotal             prometheus.Counter
	collectDurationSeconds     *prometheus.HistogramVec
	enrichmentFailuresTotal    *prometheus.CounterVec
	frontierEnqueuesTotal      *prometheus.CounterVec
	relationshipsTotal         *prometheus.CounterVec
	frontierErrorsTotal        prometheus.Counter
	queueItems                 *prometheus.GaugeVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     prometheus.Histogram
	robotsFallbackTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainmapper_items_total",
				Help: "Queue items finished by a worker, labeled by terminal status.",
			},
			[]string{"status"},
		)

		claimsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "domainmapper_claims_total",
				Help: "Total number of claim batches issued.",
			},
		)

		claimBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domainmapper_claim_batch_size",
				Help:    "Number of items returned per claim.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		)

		reclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "domainmapper_reclaimed_total",
				Help: "Total number of stale leases returned to pending.",
			},
		)

		collectDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domainmapper_collect_duration_seconds",
				Help:    "Histogram of collection latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		)

		enrichmentFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainmapper_enrichment_failures_total",
				Help: "Enricher failures that left metadata fields empty, labeled by enricher.",
			},
			[]string{"enricher"},
		)

		frontierEnqueuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainmapper_frontier_enqueues_total",
				Help: "Discovered URLs offered to the queue, labeled by result.",
			},
			[]string{"result"},
		)

		relationshipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainmapper_relationships_total",
				Help: "Relationships recorded by frontier expansion, labeled by type.",
			},
			[]string{"type"},
		)

		frontierErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "domainmapper_frontier_errors_total",
				Help: "Frontier expansions that stopped on a store error after the item was collected.",
			},
		)

		queueItems = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domainmapper_queue_items",
				Help: "Queue rows per status as of the last stats read.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "domainmapper_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domainmapper_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "domainmapper_robots_fallback_total",
				Help: "robots.txt fetches that failed and were treated as allow-all.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem counts an item reaching a terminal status and its collection time.
func ObserveItem(status string, duration time.Duration) {
	itemsTotal.WithLabelValues(status).Inc()
	collectDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveClaim records one claim call and how many items it returned.
func ObserveClaim(size int) {
	claimsTotal.Inc()
	claimBatchSize.Observe(float64(size))
}

// ObserveReclaimed adds n reclaimed leases.
func ObserveReclaimed(n int64) {
	if n > 0 {
		reclaimedTotal.Add(float64(n))
	}
}

// ObserveEnrichmentFailure counts a failed enricher.
func ObserveEnrichmentFailure(enricher string) {
	enrichmentFailuresTotal.WithLabelValues(enricher).Inc()
}

// ObserveFrontierEnqueues adds n discovered URLs with the given result
// (inserted, capped_domain, capped_budget, dropped_depth).
func ObserveFrontierEnqueues(result string, n int) {
	if n > 0 {
		frontierEnqueuesTotal.WithLabelValues(result).Add(float64(n))
	}
}

// ObserveRelationships adds n recorded relationships of relType.
func ObserveRelationships(relType string, n int) {
	if n > 0 {
		relationshipsTotal.WithLabelValues(relType).Add(float64(n))
	}
}

// ObserveFrontierError counts an expansion that ended early.
func ObserveFrontierError() {
	frontierErrorsTotal.Inc()
}

// SetQueueDepth publishes the number of rows in a status.
func SetQueueDepth(status string, n int64) {
	queueItems.WithLabelValues(status).Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt fetch that fell back to allow-all.
func ObserveRobotsFallback() {
	robotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
