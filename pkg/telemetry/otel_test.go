package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := SetupWithOptions(Options{ServiceName: "test-service"})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	m := tel.Metrics()
	require.NotNil(t, m)
	m.RecordRealizedPnL(context.Background(), "BTC", 12.5)
	m.IncPartialHedge(context.Background(), "binance_kucoin")
	m.SetCircuitBreakerOpen("cycle_errors", true)
	assert.True(t, m.GetCircuitBreakerOpen("cycle_errors"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestMetricsHolder_SafeBeforeInit(t *testing.T) {
	m := NewMetricsHolder()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordRealizedPnL(ctx, "ETH", -3)
		m.IncHedgeOpened(ctx, "binance_hyperliquid")
		m.ObserveVenueLatency(ctx, "kucoin", 12)
		m.ObserveCycle(ctx, 0.5)
	})

	m.SetUnrealizedPnL("pos-1", 4.2)
	assert.Equal(t, 4.2, m.GetUnrealizedPnL()["pos-1"])
	m.ClearUnrealizedPnL("pos-1")
	assert.Empty(t, m.GetUnrealizedPnL())

	var nilHolder *MetricsHolder
	assert.NotPanics(t, func() {
		nilHolder.SetPositionsOpen(2)
		nilHolder.IncVenueFailure(ctx, "binance")
	})
}
