// Package metrics exposes Prometheus collectors for the digest service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeCrawlWorkers         prometheus.Gauge
	articlesStoredTotal        *prometheus.CounterVec
	digestCyclesTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		activeCrawlWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "up2d8_active_crawl_workers",
				Help: "Number of workers currently processing a crawl task.",
			},
		)

		articlesStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "up2d8_articles_stored_total",
				Help: "Articles stored by the crawl workers, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		digestCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "up2d8_digest_cycles_total",
				Help: "Digest cycles executed, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveCrawlWorkers increments the active workers gauge.
func IncActiveCrawlWorkers() {
	activeCrawlWorkers.Inc()
}

// DecActiveCrawlWorkers decrements the active workers gauge.
func DecActiveCrawlWorkers() {
	activeCrawlWorkers.Dec()
}

// ObserveArticleStored increments the article counter; outcome is "inserted"
// or "duplicate".
func ObserveArticleStored(outcome string) {
	articlesStoredTotal.WithLabelValues(outcome).Inc()
}

// ObserveDigestCycle increments the digest cycle counter.
func ObserveDigestCycle(status string) {
	digestCyclesTotal.WithLabelValues(status).Inc()
}
