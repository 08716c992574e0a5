package diag

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestServer_HealthzAlwaysOK(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadyzReflectsReadyFunc(t *testing.T) {
	reg := prometheus.NewRegistry()
	ready := false
	s := New(reg, func() bool { return ready })

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsExposesRegisteredCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RewindDetected()
	m.CommandResult(true)
	m.SetActiveSessions(3)

	s := New(reg, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "rewindwatch_rewinds_total 1")
	assert.Contains(t, body, "rewindwatch_active_sessions 3")
	assert.Contains(t, body, `rewindwatch_commands_total{result="ok"} 1`)
}

func TestMetrics_NilReceiverMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CommandResult(true)
		m.RewindDetected()
		m.SetActiveSessions(5)
		m.ListenerReconnect()
	})
}
