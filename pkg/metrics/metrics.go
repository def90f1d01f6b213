// Package metrics provides metrics implementations for the accounts service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/interfaces"
)

const namespace = "accounts"

// NoOpMetrics is a no-operation metrics implementation
type NoOpMetrics struct{}

// ObserveRequest is a no-op
func (m *NoOpMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {}

// ObserveUseCase is a no-op
func (m *NoOpMetrics) ObserveUseCase(name string, err error, duration time.Duration) {}

// IncHistoryEvent is a no-op
func (m *NoOpMetrics) IncHistoryEvent(event string) {}

// PrometheusMetrics records metrics into its own registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	useCaseRuns     *prometheus.CounterVec
	useCaseDuration *prometheus.HistogramVec
	historyEvents   *prometheus.CounterVec
}

// NewPrometheusMetrics creates a Prometheus metrics implementation
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"method", "route"},
		),
		useCaseRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usecase",
				Name:      "runs_total",
				Help:      "Total number of dispatched use cases by outcome.",
			},
			[]string{"name", "outcome"},
		),
		useCaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "usecase",
				Name:      "duration_seconds",
				Help:      "Duration of dispatched use cases.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"name"},
		),
		historyEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "history",
				Name:      "events_total",
				Help:      "Audit history rows written by event.",
			},
			[]string{"event"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.useCaseRuns,
		m.useCaseDuration,
		m.historyEvents,
	)

	return m
}

// ObserveRequest records a completed HTTP request
func (m *PrometheusMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUseCase records a dispatched use case
func (m *PrometheusMetrics) ObserveUseCase(name string, err error, duration time.Duration) {
	m.useCaseRuns.WithLabelValues(name, outcome(err)).Inc()
	m.useCaseDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// IncHistoryEvent counts an audit history row
func (m *PrometheusMetrics) IncHistoryEvent(event string) {
	m.historyEvents.WithLabelValues(event).Inc()
}

// Registry returns the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		return string(appErr.Type)
	}
	return "error"
}

var _ interfaces.Metrics = (*NoOpMetrics)(nil)
var _ interfaces.Metrics = (*PrometheusMetrics)(nil)

// NewNoOpMetrics creates a new no-op metrics implementation
func NewNoOpMetrics() interfaces.Metrics {
	return &NoOpMetrics{}
}

// NewTestMetrics creates a metrics implementation for testing
func NewTestMetrics() interfaces.Metrics {
	return &NoOpMetrics{}
}
