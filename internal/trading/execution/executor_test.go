package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/mock"
	"funding_arb/internal/model"
	apperrors "funding_arb/pkg/errors"
	"funding_arb/pkg/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func newVenues(t *testing.T) (*mock.MockConnector, *mock.MockConnector) {
	t.Helper()
	ctx := context.Background()
	a := mock.NewMockConnector("kucoin")
	b := mock.NewMockConnector("binance")
	for _, m := range []*mock.MockConnector{a, b} {
		require.NoError(t, m.Connect(ctx))
		m.SetPrice("BTC", decimal.NewFromInt(100000))
	}
	return a, b
}

func newExecutor() *PairExecutor {
	return NewPairExecutor(Config{
		OrderTimeout: time.Second,
		Retry:        retry.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}, &mockLogger{}, nil)
}

func legs(long, short *mock.MockConnector) (LegOrder, LegOrder) {
	size := decimal.NewFromFloat(0.01)
	return LegOrder{Connector: long, Instrument: "BTC", Side: model.SideLong, Size: size},
		LegOrder{Connector: short, Instrument: "BTC", Side: model.SideShort, Size: size}
}

func TestPairExecutor_OpenBothLegs(t *testing.T) {
	long, short := newVenues(t)
	l, s := legs(long, short)

	fill, err := newExecutor().Open(context.Background(), l, s)
	require.NoError(t, err)
	assert.Equal(t, "kucoin", fill.Long.Venue)
	assert.Equal(t, "binance", fill.Short.Venue)
	assert.True(t, long.Position("BTC").Equal(decimal.NewFromFloat(0.01)))
	assert.True(t, short.Position("BTC").Equal(decimal.NewFromFloat(-0.01)))
}

func TestPairExecutor_PartialHedgeUnwinds(t *testing.T) {
	long, short := newVenues(t)
	short.FailPlace(apperrors.ErrInsufficientFunds)
	l, s := legs(long, short)

	_, err := newExecutor().Open(context.Background(), l, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPartialHedge))
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))

	var phe *PartialHedgeError
	require.True(t, errors.As(err, &phe))
	assert.Equal(t, "kucoin", phe.FilledVenue)
	assert.Equal(t, "binance", phe.FailedVenue)
	assert.True(t, phe.Unwound())

	assert.Empty(t, long.OpenInstruments())
	assert.Empty(t, short.OpenInstruments())
}

func TestPairExecutor_UnwindRetriesTransient(t *testing.T) {
	long, short := newVenues(t)
	long.FailPlace(apperrors.ErrOrderRejected)
	short.FailClose(apperrors.ErrNetwork, 2)
	l, s := legs(long, short)

	_, err := newExecutor().Open(context.Background(), l, s)
	var phe *PartialHedgeError
	require.True(t, errors.As(err, &phe))
	assert.Equal(t, "binance", phe.FilledVenue)
	assert.NoError(t, phe.UnwindErr)
	assert.Equal(t, 3, short.CloseCalls())
	assert.True(t, short.Position("BTC").IsZero())
}

func TestPairExecutor_UnwindFailureReported(t *testing.T) {
	long, short := newVenues(t)
	long.FailPlace(apperrors.ErrOrderRejected)
	short.FailClose(apperrors.ErrAuthenticationFailed, -1)
	l, s := legs(long, short)

	_, err := newExecutor().Open(context.Background(), l, s)
	var phe *PartialHedgeError
	require.True(t, errors.As(err, &phe))
	assert.False(t, phe.Unwound())
	assert.Equal(t, 1, short.CloseCalls())
	assert.False(t, short.Position("BTC").IsZero())
}

func TestPairExecutor_BothLegsFail(t *testing.T) {
	long, short := newVenues(t)
	long.FailPlace(apperrors.ErrOrderRejected)
	short.FailPlace(apperrors.ErrOrderRejected)
	l, s := legs(long, short)

	_, err := newExecutor().Open(context.Background(), l, s)
	assert.ErrorIs(t, err, apperrors.ErrOpenFailed)
	assert.False(t, errors.Is(err, apperrors.ErrPartialHedge))
}

func TestPairExecutor_OpenSurvivesCancelledCaller(t *testing.T) {
	long, short := newVenues(t)
	long.SetPlaceDelay(20 * time.Millisecond)
	l, s := legs(long, short)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExecutor().Open(ctx, l, s)
	require.NoError(t, err)
	assert.False(t, long.Position("BTC").IsZero())
}

func TestPairExecutor_Close(t *testing.T) {
	long, short := newVenues(t)
	l, s := legs(long, short)
	ex := newExecutor()
	_, err := ex.Open(context.Background(), l, s)
	require.NoError(t, err)

	short.FailClose(apperrors.ErrExchangeMaintenance, -1)
	res, err := ex.Close(context.Background(), l, s)
	require.Error(t, err)

	var lce *LegCloseError
	require.True(t, errors.As(err, &lce))
	assert.Equal(t, []string{"binance"}, lce.FailedVenues)
	assert.True(t, res.Long.OK())
	assert.NotNil(t, res.Long.Result)
	assert.False(t, res.Short.OK())
	assert.Equal(t, 3, short.CloseCalls())

	short.FailClose(nil, 0)
	res, err = ex.Close(context.Background(), l, s)
	require.NoError(t, err)
	assert.True(t, res.Long.Flat)
	assert.NotNil(t, res.Short.Result)
}

func TestPairExecutor_UnwindOnlyTakesBackFilledSize(t *testing.T) {
	long, short := newVenues(t)
	ctx := context.Background()
	// another hedge already holds 0.02 BTC long on the same venue
	_, err := long.PlaceMarketOrder(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.02))
	require.NoError(t, err)

	short.FailPlace(apperrors.ErrOrderRejected)
	l, s := legs(long, short)
	_, err = newExecutor().Open(ctx, l, s)

	var phe *PartialHedgeError
	require.True(t, errors.As(err, &phe))
	assert.True(t, phe.Unwound())
	assert.True(t, long.Position("BTC").Equal(decimal.NewFromFloat(0.02)), "kucoin net %s", long.Position("BTC"))

	orders := long.Orders()
	unwind := orders[len(orders)-1]
	assert.Equal(t, model.SideShort, unwind.Side)
	assert.True(t, unwind.Size.Equal(decimal.NewFromFloat(0.01)))
}

func TestPairExecutor_CloseLeavesSharedHoldingIntact(t *testing.T) {
	long, short := newVenues(t)
	third := mock.NewMockConnector("hyperliquid")
	require.NoError(t, third.Connect(context.Background()))
	third.SetPrice("BTC", decimal.NewFromInt(100000))
	ex := newExecutor()
	ctx := context.Background()

	aLong, aShort := legs(long, short)
	_, err := ex.Open(ctx, aLong, aShort)
	require.NoError(t, err)
	bLong, bShort := legs(long, third)
	_, err = ex.Open(ctx, bLong, bShort)
	require.NoError(t, err)
	require.True(t, long.Position("BTC").Equal(decimal.NewFromFloat(0.02)))

	res, err := ex.Close(ctx, aLong, aShort)
	require.NoError(t, err)
	assert.False(t, res.Long.Flat)
	assert.True(t, long.Position("BTC").Equal(decimal.NewFromFloat(0.01)), "kucoin net %s", long.Position("BTC"))
	assert.True(t, short.Position("BTC").IsZero())

	res, err = ex.Close(ctx, bLong, bShort)
	require.NoError(t, err)
	assert.False(t, res.Long.Flat)
	require.NotNil(t, res.Long.Result)
	assert.NotEmpty(t, res.Long.Result.OrderID)
	assert.Empty(t, long.OpenInstruments())
	assert.Empty(t, third.OpenInstruments())
}

func TestPairExecutor_CloseNeverFlipsAHolding(t *testing.T) {
	long, short := newVenues(t)
	ctx := context.Background()
	l, s := legs(long, short)
	_, err := long.PlaceMarketOrder(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.004))
	require.NoError(t, err)
	_, err = short.PlaceMarketOrder(ctx, "BTC", model.SideShort, decimal.NewFromFloat(0.01))
	require.NoError(t, err)

	res, err := newExecutor().Close(ctx, l, s)
	require.NoError(t, err)
	require.NotNil(t, res.Long.Result)
	assert.True(t, res.Long.Result.Size.Equal(decimal.NewFromFloat(0.004)))
	assert.True(t, long.Position("BTC").IsZero())
}
