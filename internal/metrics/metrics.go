// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterPagesTotal            *prometheus.CounterVec
	harvesterThreadsTotal          *prometheus.CounterVec
	harvesterAssetsTotal           *prometheus.CounterVec
	harvesterAssetBytesTotal       prometheus.Counter
	harvesterRetriesTotal          *prometheus.CounterVec
	harvesterRecyclesTotal         *prometheus.CounterVec
	harvesterHostRestartsTotal     prometheus.Counter
	harvesterAvailableMemoryBytes  prometheus.Gauge
	harvesterPassDurationSeconds   prometheus.Histogram
	harvesterRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Thread pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterThreadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_threads_total",
				Help: "Threads visited by sync passes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvesterAssetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_assets_total",
				Help: "Media upload tasks, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterAssetBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_asset_bytes_total",
				Help: "Bytes written to object storage.",
			},
		)

		harvesterRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_retries_total",
				Help: "Retried operations, labeled by operation.",
			},
			[]string{"operation"},
		)

		harvesterRecyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_browser_recycles_total",
				Help: "Browser process restarts, labeled by reason.",
			},
			[]string{"reason"},
		)

		harvesterHostRestartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_host_restarts_total",
				Help: "Host restarts requested by the memory watchdog.",
			},
		)

		harvesterAvailableMemoryBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_available_memory_bytes",
				Help: "Last sampled available host memory.",
			},
		)

		harvesterPassDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_sync_pass_duration_seconds",
				Help:    "Wall-clock duration of sync passes.",
				Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
		)

		harvesterRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost extracts a lowercase hostname, or "unknown".
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts a processed thread page.
func ObservePage(status string) {
	Init()
	harvesterPagesTotal.WithLabelValues(status).Inc()
}

// ObserveThread counts a thread outcome (completed, abandoned, empty).
func ObserveThread(outcome string) {
	Init()
	harvesterThreadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAsset counts an upload task by status and adds stored bytes.
func ObserveAsset(status string, bytesStored int) {
	Init()
	harvesterAssetsTotal.WithLabelValues(status).Inc()
	if bytesStored > 0 {
		harvesterAssetBytesTotal.Add(float64(bytesStored))
	}
}

// ObserveRetry counts one retried attempt of operation.
func ObserveRetry(operation string) {
	Init()
	harvesterRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveRecycle counts a browser restart.
func ObserveRecycle(reason string) {
	Init()
	harvesterRecyclesTotal.WithLabelValues(reason).Inc()
}

// ObserveHostRestart counts a host restart request.
func ObserveHostRestart() {
	Init()
	harvesterHostRestartsTotal.Inc()
}

// SetAvailableMemory records the latest memory sample.
func SetAvailableMemory(bytes uint64) {
	Init()
	harvesterAvailableMemoryBytes.Set(float64(bytes))
}

// ObservePass records the duration of a sync pass.
func ObservePass(duration time.Duration) {
	Init()
	harvesterPassDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
