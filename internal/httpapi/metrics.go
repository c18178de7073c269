package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"ocrdeploy/internal/worker"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrdeploy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocrdeploy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ocrdeploy",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"method"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrdeploy",
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Total backpressure rejections (429)",
		},
		[]string{"reason"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrdeploy",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs handled by the worker, by mode and final status",
		},
		[]string{"mode", "status"},
	)

	queueJobs = prometheus.NewDesc(
		"ocrdeploy_worker_queue_jobs",
		"Jobs tracked by the async queue, by status",
		[]string{"status"}, nil,
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight, backpressureTotal, jobsTotal, queueCollector{})
}

var (
	queueStatsMu sync.RWMutex
	queueStats   func() worker.QueueStats
)

// SetQueueStats installs the source for the queue gauges. nil disables them.
func SetQueueStats(f func() worker.QueueStats) {
	queueStatsMu.Lock()
	queueStats = f
	queueStatsMu.Unlock()
}

// queueCollector reads queue counts at scrape time.
type queueCollector struct{}

func (queueCollector) Describe(ch chan<- *prometheus.Desc) { ch <- queueJobs }

func (queueCollector) Collect(ch chan<- prometheus.Metric) {
	queueStatsMu.RLock()
	f := queueStats
	queueStatsMu.RUnlock()
	if f == nil {
		return
	}
	s := f()
	for status, v := range map[string]int{
		"IN_QUEUE":    s.Queued,
		"IN_PROGRESS": s.InProgress,
		"COMPLETED":   s.Completed,
		"FAILED":      s.Failed,
	} {
		ch <- prometheus.MustNewConstMetric(queueJobs, prometheus.GaugeValue, float64(v), status)
	}
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		httpInflight.WithLabelValues(r.Method).Inc()
		next.ServeHTTP(sr, r)
		httpInflight.WithLabelValues(r.Method).Dec()
		// The pattern is only known after routing.
		path := routePatternOrPath(r)
		statusLabel := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, statusLabel).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementBackpressure is called when returning 429 to the client
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}

func countJob(mode, status string) { jobsTotal.WithLabelValues(mode, status).Inc() }
