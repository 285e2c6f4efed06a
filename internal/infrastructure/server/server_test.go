package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})               {}
func (m *MockLogger) Info(msg string, fields ...interface{})                {}
func (m *MockLogger) Warn(msg string, fields ...interface{})                {}
func (m *MockLogger) Error(msg string, fields ...interface{})               {}
func (m *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *MockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

type stubProvider struct {
	healthy    bool
	status     model.EngineStatus
	components map[string]string
}

func (p *stubProvider) HealthCheck() (bool, model.EngineStatus, map[string]string) {
	return p.healthy, p.status, p.components
}

func runningProvider() *stubProvider {
	return &stubProvider{
		healthy: true,
		status: model.EngineStatus{
			State:            model.EngineRunning,
			Cycles:           12,
			DailyPnL:         decimal.RequireFromString("3.5"),
			DailyPnLFraction: decimal.RequireFromString("0.0035"),
			Venues: map[string]model.VenueStatus{
				"binance": {Connected: true},
				"kucoin":  {Connected: true},
			},
			ActivePositions: 1,
		},
		components: map[string]string{"engine": "Healthy", "venues": "Healthy"},
	}
}

func TestHealth_Healthy(t *testing.T) {
	s := NewHealthServer(0, runningProvider(), &MockLogger{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "running", body.State)
	assert.Equal(t, 2, body.LiveVenues)
	assert.Equal(t, "Healthy", body.Components["engine"])
}

func TestHealth_UnhealthyReturns503(t *testing.T) {
	p := runningProvider()
	p.healthy = false
	p.status.State = model.EngineEmergencyStop
	p.components["venues"] = "Unhealthy: 1 of 2 venues live"
	s := NewHealthServer(0, p, &MockLogger{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "emergency_stop", body.State)
}

func TestStatus_ReturnsEngineStatus(t *testing.T) {
	s := NewHealthServer(0, runningProvider(), &MockLogger{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, float64(12), body["cycles"])
	assert.Equal(t, "3.5", body["daily_pnl"])
	assert.Contains(t, body["venues"], "kucoin")
}

func TestMetricsAndMount(t *testing.T) {
	s := NewHealthServer(0, runningProvider(), &MockLogger{})
	s.Mount("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	s := NewHealthServer(0, runningProvider(), &MockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, time.Second, 5*time.Millisecond)

	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + port + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
