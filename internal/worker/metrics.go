package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	activeJobs         prometheus.Gauge
	captureBytesTotal  prometheus.Counter
	capturePixelsTotal prometheus.Counter
	solvedCaptures     prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpuzzle_worker_captures_total",
			Help: "Total capture jobs by output format and final status.",
		}, []string{"format", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpuzzle_worker_capture_duration_seconds",
			Help:    "Duration of each capture job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelpuzzle_worker_active_captures",
			Help: "Current number of captures being rendered.",
		}),
		captureBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpuzzle_worker_capture_bytes_total",
			Help: "Total encoded bytes written by successful captures.",
		}),
		capturePixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpuzzle_worker_capture_pixels_total",
			Help: "Total pixels rendered by successful captures.",
		}),
		solvedCaptures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpuzzle_worker_solved_captures_total",
			Help: "Successful captures of puzzles that were already solved.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.captureBytesTotal,
		m.capturePixelsTotal,
		m.solvedCaptures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
