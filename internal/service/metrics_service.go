package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and
// scheduling runs.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheLookups    *prometheus.CounterVec

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	runsInFlight    prometheus.Gauge
	placementsTotal prometheus.Counter
	unscheduled     *prometheus.CounterVec
	runPenalty      prometheus.Histogram
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache reads",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache writes",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduling_runs_total",
			Help: "Finished scheduling runs by status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduling_run_duration_seconds",
			Help:    "Wall time of scheduling runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduling_runs_in_flight",
			Help: "Scheduling runs currently executing",
		}),
		placementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_placements_total",
			Help: "Session occurrences committed by scheduling runs",
		}),
		unscheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduling_unscheduled_total",
			Help: "Session occurrences left unplaced, by reason",
		}, []string{"reason"}),
		runPenalty: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduling_run_penalty",
			Help:    "Soft-constraint penalty of committed schedules",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheWrite,
		m.cacheLookups, m.runsTotal, m.runDuration, m.runsInFlight, m.placementsTotal, m.unscheduled, m.runPenalty, goroutines)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RunStarted marks a run as executing.
func (m *MetricsService) RunStarted() {
	if m == nil {
		return
	}
	m.runsInFlight.Inc()
}

// RunFinished records the outcome of a run that went through RunStarted.
func (m *MetricsService) RunFinished(status string, duration time.Duration, placed int, penalty float64, unscheduled map[string]int) {
	if m == nil {
		return
	}
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
	if placed > 0 {
		m.placementsTotal.Add(float64(placed))
		m.runPenalty.Observe(penalty)
	}
	for reason, n := range unscheduled {
		m.unscheduled.WithLabelValues(reason).Add(float64(n))
	}
}
