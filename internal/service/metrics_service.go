package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// background workers.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	sweepRuns       prometheus.Counter
	sweepCompleted  prometheus.Counter
	sweepFailures   prometheus.Counter
	weeksBuilt      prometheus.Counter
	sessionsBuilt   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	sweepRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_sweep_runs_total",
		Help: "Total expired-session sweep executions",
	})

	sweepCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_sweep_completed_total",
		Help: "Total sessions auto-completed by the sweep",
	})

	sweepFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_sweep_failures_total",
		Help: "Total sessions the sweep failed to complete",
	})

	weeksBuilt := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "weeks_materialized_total",
		Help: "Total approved weeks turned into sessions",
	})

	sessionsBuilt := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_materialized_total",
		Help: "Total sessions created by week materialization",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		sweepRuns, sweepCompleted, sweepFailures, weeksBuilt, sessionsBuilt, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		sweepRuns:       sweepRuns,
		sweepCompleted:  sweepCompleted,
		sweepFailures:   sweepFailures,
		weeksBuilt:      weeksBuilt,
		sessionsBuilt:   sessionsBuilt,
	}
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordSweep records the outcome of one expired-session sweep.
func (m *MetricsService) RecordSweep(completed, failures int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepCompleted.Add(float64(completed))
	m.sweepFailures.Add(float64(failures))
}

// RecordMaterialization records one materialized week and its session count.
func (m *MetricsService) RecordMaterialization(sessions int) {
	if m == nil {
		return
	}
	m.weeksBuilt.Inc()
	m.sessionsBuilt.Add(float64(sessions))
}
