// Package metrics exposes Prometheus collectors for the roast pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	screenshotDurationSeconds prometheus.Histogram
	screenshotsTotal          *prometheus.CounterVec
	cacheRequestsTotal        *prometheus.CounterVec
	providerLatencySeconds    *prometheus.HistogramVec
	providerFailuresTotal     *prometheus.CounterVec
	ensembleSurvivors         prometheus.Histogram
	queueEventsTotal          *prometheus.CounterVec
	activeJobs                prometheus.Gauge

	once sync.Once
)

func init() {
	Init()
}

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		screenshotDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roastpipe_screenshot_duration_seconds",
				Help:    "Histogram of end-to-end screenshot capture latencies.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
		)

		screenshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roastpipe_screenshots_total",
				Help: "Total screenshot captures, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roastpipe_cache_requests_total",
				Help: "Cache lookups, labeled by tier and result (hit/miss).",
			},
			[]string{"tier", "result"},
		)

		providerLatencySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roastpipe_provider_latency_seconds",
				Help:    "Histogram of AI provider call latencies, labeled by provider.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 15},
			},
			[]string{"provider"},
		)

		providerFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roastpipe_provider_failures_total",
				Help: "AI provider failures, labeled by provider and reason.",
			},
			[]string{"provider", "reason"},
		)

		ensembleSurvivors = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roastpipe_ensemble_survivors",
				Help:    "Number of providers that contributed to each ensemble.",
				Buckets: []float64{0, 1, 2, 3},
			},
		)

		queueEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roastpipe_queue_events_total",
				Help: "Queue consumer lifecycle events, labeled by kind.",
			},
			[]string{"kind"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "roastpipe_active_jobs",
				Help: "Number of screenshot jobs currently being processed.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScreenshot records one capture attempt.
func ObserveScreenshot(outcome string, duration time.Duration) {
	screenshotsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		screenshotDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveCacheRequest records one cache lookup result ("hit" or "miss").
func ObserveCacheRequest(tier string, result string) {
	cacheRequestsTotal.WithLabelValues(tier, result).Inc()
}

// ObserveProviderCall records the latency of a successful provider call.
func ObserveProviderCall(provider string, duration time.Duration) {
	providerLatencySeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveProviderFailure counts a provider failure by reason
// (timeout, api_error, parse_error).
func ObserveProviderFailure(provider string, reason string) {
	providerFailuresTotal.WithLabelValues(provider, reason).Inc()
}

// ObserveEnsemble records how many providers survived one ensembling call.
func ObserveEnsemble(survivors int) {
	ensembleSurvivors.Observe(float64(survivors))
}

// ObserveQueueEvent counts a queue consumer lifecycle event.
func ObserveQueueEvent(kind string) {
	queueEventsTotal.WithLabelValues(kind).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	activeJobs.Dec()
}
