package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)

	assert.NotNil(t, m.Registry())
	assert.NotNil(t, m.ServiceInvocationsTotal)
	assert.NotNil(t, m.ServiceInvocationDuration)
	assert.NotNil(t, m.IntegrationSetupTotal)
	assert.NotNil(t, m.IntegrationsReady)
	assert.NotNil(t, m.EventsEmittedTotal)
	assert.NotNil(t, m.TaskRestartsTotal)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.ObserveInvocation("webhook", "send_webhook", true, 10*time.Millisecond)
	m.ObserveSetup("webhook", true)
	m.SetReady(1)
	m.ObserveEvent("telegram.message_sent")
	m.ObserveRestart("telegram.poll")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, name := range []string{
		"service_invocations_total",
		"service_invocation_duration_seconds",
		"integration_setup_total",
		"integrations_ready",
		"events_emitted_total",
		"supervised_task_restarts_total",
	} {
		assert.Contains(t, body, name)
	}
}

func TestObserveInvocation(t *testing.T) {
	m := NewMetrics()

	m.ObserveInvocation("jira", "create_ticket", true, time.Millisecond)
	m.ObserveInvocation("jira", "create_ticket", false, time.Millisecond)
	m.ObserveInvocation("jira", "create_ticket", false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceInvocationsTotal.WithLabelValues("jira", "create_ticket", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ServiceInvocationsTotal.WithLabelValues("jira", "create_ticket", "error")))
}

func TestObserveSetupAndReady(t *testing.T) {
	m := NewMetrics()

	m.ObserveSetup("slack", true)
	m.ObserveSetup("docker", false)
	m.SetReady(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntegrationSetupTotal.WithLabelValues("slack", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntegrationSetupTotal.WithLabelValues("docker", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IntegrationsReady))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveInvocation("a", "b", true, time.Second)
		m.ObserveSetup("a", false)
		m.SetReady(2)
		m.ObserveEvent("x")
		m.ObserveRestart("y")
	})
}
