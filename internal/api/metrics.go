package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry            *prometheus.Registry
	requestTotal        *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	rateLimitRejected   *prometheus.CounterVec
	queueEnqueued       *prometheus.CounterVec
	slicesTotal         *prometheus.CounterVec
	sliceDuration       *prometheus.HistogramVec
	puzzlesSolved       prometheus.Counter
	shareTokenBytes     prometheus.Histogram
	shareDecodeFailures prometheus.Counter
}

func newMetrics(openSessions func() int) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpuzzle_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpuzzle_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpuzzle_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpuzzle_queue_captures_enqueued_total",
			Help: "Total capture jobs enqueued.",
		}, []string{"queue"}),
		slicesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpuzzle_slices_total",
			Help: "Slice requests by outcome (ready, failed, stale, dropped).",
		}, []string{"outcome"}),
		sliceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpuzzle_slice_duration_seconds",
			Help:    "Time spent loading and slicing source images.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		puzzlesSolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpuzzle_puzzles_solved_total",
			Help: "Total unsolved-to-solved transitions.",
		}),
		shareTokenBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelpuzzle_share_token_bytes",
			Help:    "Size of issued share tokens.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		shareDecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpuzzle_share_decode_failures_total",
			Help: "Share tokens that could not be decoded and fell back to config.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.slicesTotal,
		m.sliceDuration,
		m.puzzlesSolved,
		m.shareTokenBytes,
		m.shareDecodeFailures,
	)
	if openSessions != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pixelpuzzle_open_sessions",
			Help: "Puzzle sessions currently held in memory.",
		}, func() float64 { return float64(openSessions()) }))
	}
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses ids so label cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case path == "/healthz" || path == "/metrics":
		return path
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "puzzles":
		switch {
		case len(parts) == 2:
			return "/v1/puzzles"
		case len(parts) == 3 && parts[2] == "open":
			return "/v1/puzzles/open"
		case len(parts) == 3:
			return "/v1/puzzles/{id}"
		case len(parts) == 4:
			return "/v1/puzzles/{id}/" + parts[3]
		}
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "captures":
		return "/v1/captures/{id}"
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "uploads":
		return "/v1/uploads"
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
