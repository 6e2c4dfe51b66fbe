// Package telemetry exposes Prometheus metrics for the crawl engine.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Total pages handled, labeled by outcome (crawled, failed, skipped).",
		},
		[]string{"outcome"},
	)

	crawlerBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_bytes_total",
			Help: "Total HTML bytes fetched.",
		},
	)

	crawlerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Total job lifecycle transitions, labeled by status.",
		},
		[]string{"status"},
	)

	crawlerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of workers currently executing a job.",
		},
	)

	crawlerRateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delay_seconds",
			Help:    "Histogram of politeness delays applied before fetches.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	crawlerFetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one page outcome: crawled, failed or skipped.
func ObservePage(outcome string, bytesFetched int) {
	crawlerPagesTotal.WithLabelValues(outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveJob records a job status transition.
func ObserveJob(status string) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(duration time.Duration) {
	crawlerRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveFetch records a page fetch latency.
func ObserveFetch(duration time.Duration) {
	crawlerFetchDurationSeconds.Observe(duration.Seconds())
}
