package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hvacdash/hvacdash/pkg/compaction"
	"github.com/hvacdash/hvacdash/pkg/storage"
)

// Metrics exposes store, retention and HTTP counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	readings          *prometheus.CounterVec
	bucketsCompacted  *prometheus.CounterVec
	entriesCompacted  *prometheus.CounterVec
	retentionFailures *prometheus.CounterVec
	pollErrors        prometheus.Counter
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

var (
	_ storage.Observer          = (*Metrics)(nil)
	_ compaction.WindowRecorder = (*Metrics)(nil)
)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hvacdash_readings_total",
			Help: "Readings committed to the telemetry log by outcome.",
		}, []string{"outcome"}),
		bucketsCompacted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hvacdash_compaction_buckets_total",
			Help: "Buckets rewritten by retention, by window.",
		}, []string{"window"}),
		entriesCompacted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hvacdash_compaction_entries_removed_total",
			Help: "Entries folded into buckets by retention, by window.",
		}, []string{"window"}),
		retentionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hvacdash_retention_failures_total",
			Help: "Failed retention windows.",
		}, []string{"window"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hvacdash_poll_errors_total",
			Help: "Device polls that failed.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hvacdash_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hvacdash_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.readings,
		m.bucketsCompacted,
		m.entriesCompacted,
		m.retentionFailures,
		m.pollErrors,
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveIngest counts a committed reading.
func (m *Metrics) ObserveIngest(outcome storage.IngestOutcome) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(string(outcome)).Inc()
}

// RecordWindow counts the work done by one retention window.
func (m *Metrics) RecordWindow(window string, res compaction.Result, err error) {
	if m == nil {
		return
	}
	m.bucketsCompacted.WithLabelValues(window).Add(float64(res.Buckets))
	m.entriesCompacted.WithLabelValues(window).Add(float64(res.EntriesIn))
	if err != nil {
		m.retentionFailures.WithLabelValues(window).Inc()
	}
}

// PollFailed counts a failed device poll.
func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
