package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordGateDecision(OutcomeAllowed)
		m.RecordExchange("success", time.Second)
		m.RecordSessionsDestroyed(ReasonLogout, 1)
		m.RecordHTTPRequest(http.MethodGet, 200, time.Millisecond)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateDecisions(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordGateDecision(OutcomeAllowed)
	m.RecordGateDecision(OutcomeAllowed)
	m.RecordGateDecision(OutcomeExpired)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.GateDecisions.WithLabelValues(OutcomeAllowed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GateDecisions.WithLabelValues(OutcomeExpired)))
}

func TestSessionsDestroyed(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordSessionsDestroyed(ReasonSwept, 3)
	m.RecordSessionsDestroyed(ReasonSwept, 0)

	expected := `
# HELP console_sessions_destroyed_total Sessions destroyed by reason
# TYPE console_sessions_destroyed_total counter
console_sessions_destroyed_total{reason="swept"} 3
`
	require.NoError(t, testutil.CollectAndCompare(m.SessionsDestroyed, strings.NewReader(expected)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.RecordExchange("success", 250*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `console_oauth_exchanges_total{result="success"} 1`)
	assert.Contains(t, body, "console_oauth_exchange_duration_seconds_count 1")
	assert.Contains(t, body, "go_goroutines")
}
