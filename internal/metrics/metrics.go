package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the integration host
type Metrics struct {
	registry *prometheus.Registry

	// Service metrics
	ServiceInvocationsTotal   *prometheus.CounterVec
	ServiceInvocationDuration *prometheus.HistogramVec

	// Integration metrics
	IntegrationSetupTotal *prometheus.CounterVec
	IntegrationsReady     prometheus.Gauge

	// Event metrics
	EventsEmittedTotal *prometheus.CounterVec

	// Supervisor metrics
	TaskRestartsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ServiceInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_invocations_total",
				Help: "Total number of service invocations",
			},
			[]string{"domain", "service", "status"},
		),
		ServiceInvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "service_invocation_duration_seconds",
				Help:    "Duration of service invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"domain", "service"},
		),

		IntegrationSetupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "integration_setup_total",
				Help: "Total number of integration setup attempts",
			},
			[]string{"domain", "status"},
		),
		IntegrationsReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "integrations_ready",
				Help: "Number of integrations in the ready state",
			},
		),

		EventsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_emitted_total",
				Help: "Total number of events emitted on the event bus",
			},
			[]string{"event"},
		),

		TaskRestartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supervised_task_restarts_total",
				Help: "Total number of supervised background task restarts",
			},
			[]string{"task"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ServiceInvocationsTotal)
	m.registry.MustRegister(m.ServiceInvocationDuration)
	m.registry.MustRegister(m.IntegrationSetupTotal)
	m.registry.MustRegister(m.IntegrationsReady)
	m.registry.MustRegister(m.EventsEmittedTotal)
	m.registry.MustRegister(m.TaskRestartsTotal)
}

// ObserveInvocation records one service invocation. Safe on a nil receiver.
func (m *Metrics) ObserveInvocation(domain, service string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ServiceInvocationsTotal.WithLabelValues(domain, service, status).Inc()
	m.ServiceInvocationDuration.WithLabelValues(domain, service).Observe(duration.Seconds())
}

// ObserveSetup records one integration setup attempt. Safe on a nil receiver.
func (m *Metrics) ObserveSetup(domain string, success bool) {
	if m == nil {
		return
	}
	status := "ready"
	if !success {
		status = "failed"
	}
	m.IntegrationSetupTotal.WithLabelValues(domain, status).Inc()
}

// SetReady sets the ready integrations gauge. Safe on a nil receiver.
func (m *Metrics) SetReady(n int) {
	if m == nil {
		return
	}
	m.IntegrationsReady.Set(float64(n))
}

// ObserveEvent counts an emitted event. Safe on a nil receiver.
func (m *Metrics) ObserveEvent(name string) {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.WithLabelValues(name).Inc()
}

// ObserveRestart counts a supervised task restart. Safe on a nil receiver.
func (m *Metrics) ObserveRestart(task string) {
	if m == nil {
		return
	}
	m.TaskRestartsTotal.WithLabelValues(task).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
