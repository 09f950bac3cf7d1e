// Package metrics exposes Prometheus collectors for the archiver service.
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
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	postsIngestedTotal         *prometheus.CounterVec
	mediaBytesTotal            *prometheus.CounterVec
	autoArchiveRunsTotal       *prometheus.CounterVec
	activeTasks                prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_tasks_total",
				Help: "Total number of tasks finished, labeled by type and terminal status.",
			},
			[]string{"type", "status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_task_duration_seconds",
				Help:    "Histogram of task run times, labeled by type.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"type"},
		)

		postsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_posts_ingested_total",
				Help: "Total number of posts ingested, labeled by post type.",
			},
			[]string{"type"},
		)

		mediaBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_media_bytes_total",
				Help: "Total number of media bytes written, labeled by kind.",
			},
			[]string{"kind"},
		)

		autoArchiveRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_auto_archive_runs_total",
				Help: "Total number of auto-archive passes, labeled by result.",
			},
			[]string{"result"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_tasks",
				Help: "Number of tasks currently in progress in this process.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of download rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// SanitizeHost extracts a lowercase hostname from a URL for use as a label.
// It returns "unknown" if the URL is invalid.
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

// ObserveTask records a finished task.
func ObserveTask(taskType, status string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(taskType, status).Inc()
	if duration > 0 {
		taskDurationSeconds.WithLabelValues(taskType).Observe(duration.Seconds())
	}
}

// ObservePostIngested increments the ingested post counter.
func ObservePostIngested(postType string) {
	Init()
	postsIngestedTotal.WithLabelValues(postType).Inc()
}

// ObserveMediaBytes adds written media bytes for kind (post, thumb, profile).
func ObserveMediaBytes(kind string, n int) {
	Init()
	if n > 0 {
		mediaBytesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveAutoArchiveRun counts an auto-archive pass by result.
func ObserveAutoArchiveRun(result string) {
	Init()
	autoArchiveRunsTotal.WithLabelValues(result).Inc()
}

// IncActiveTasks increments the active tasks gauge.
func IncActiveTasks() {
	Init()
	activeTasks.Inc()
}

// DecActiveTasks decrements the active tasks gauge.
func DecActiveTasks() {
	Init()
	activeTasks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
