package paper

import (
	"context"
	"errors"
	"testing"

	"funding_arb/internal/core"
	"funding_arb/internal/model"
	apperrors "funding_arb/pkg/errors"

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

type stubSource struct {
	pingErr error
	book    map[string]core.MarketData
}

func (s *stubSource) Name() string                   { return "stub" }
func (s *stubSource) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubSource) GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error) {
	return &model.RateRecord{Venue: "stub", Instrument: instrument, Rate: decimal.NewFromFloat(0.0001), PeriodHours: 8}, nil
}

func (s *stubSource) GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error) {
	out := make(map[string]*model.RateRecord)
	for _, inst := range instruments {
		rec, _ := s.GetFundingRate(ctx, inst)
		out[inst] = rec
	}
	return out, nil
}

func (s *stubSource) GetMarketData(ctx context.Context, instrument string) (*core.MarketData, error) {
	md, ok := s.book[instrument]
	if !ok {
		return nil, apperrors.ErrInvalidSymbol
	}
	return &md, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestConnector(t *testing.T) (*Connector, *stubSource) {
	t.Helper()
	src := &stubSource{book: map[string]core.MarketData{
		"BTC": {Bid: d("99990"), Ask: d("100010"), MarkPrice: d("100000")},
		"HYP": {MarkPrice: d("20")},
	}}
	c := NewConnector(src, Config{TakerFee: 0.001, InitialBalance: 1000, Leverage: 2}, &mockLogger{})
	require.NoError(t, c.Connect(context.Background()))
	return c, src
}

func TestConnector_ConnectionState(t *testing.T) {
	src := &stubSource{pingErr: errors.New("down")}
	c := NewConnector(src, Config{}, &mockLogger{})

	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.IsConnected())
	assert.Equal(t, 1, c.ConnectionErrors())

	_, err := c.GetFundingRate(context.Background(), "BTC")
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)

	src.pingErr = nil
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.False(t, c.LastPing().IsZero())

	require.NoError(t, c.Disconnect(context.Background()))
	assert.False(t, c.IsConnected())
}

func TestConnector_FillsCrossTheSpread(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t)

	buy, err := c.PlaceMarketOrder(ctx, "BTC", model.SideLong, d("0.01"))
	require.NoError(t, err)
	assert.True(t, buy.AvgFillPrice.Equal(d("100010")))
	assert.True(t, buy.FeesPaid.Equal(d("1.0001")))
	assert.NotEmpty(t, buy.OrderID)
	assert.Equal(t, "stub", buy.Venue)
	assert.True(t, c.Position("BTC").Equal(d("0.01")))

	closed, err := c.ClosePosition(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, model.SideShort, closed.Side)
	assert.True(t, closed.AvgFillPrice.Equal(d("99990")))
	assert.True(t, c.Position("BTC").IsZero())
	assert.Empty(t, c.OpenInstruments())

	// 1000 − 1.0001 − 0.2 spread loss − 0.9999
	assert.True(t, c.Balance().Equal(d("997.8")), "balance %s", c.Balance())

	_, err = c.ClosePosition(ctx, "BTC")
	assert.ErrorIs(t, err, apperrors.ErrNoPosition)
}

func TestConnector_ShortUsesReferenceWithoutBook(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t)

	res, err := c.PlaceMarketOrder(ctx, "HYP", model.SideShort, d("10"))
	require.NoError(t, err)
	assert.True(t, res.AvgFillPrice.Equal(d("20")))
	assert.True(t, c.Position("HYP").Equal(d("-10")))
	assert.Equal(t, []string{"HYP"}, c.OpenInstruments())

	closed, err := c.ClosePosition(ctx, "HYP")
	require.NoError(t, err)
	assert.Equal(t, model.SideLong, closed.Side)
}

func TestConnector_ReducePositionStopsAtFlat(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t)

	_, err := c.PlaceMarketOrder(ctx, "HYP", model.SideShort, d("10"))
	require.NoError(t, err)

	res, err := c.ReducePosition(ctx, "HYP", model.SideShort, d("4"))
	require.NoError(t, err)
	assert.Equal(t, model.SideLong, res.Side)
	assert.True(t, c.Position("HYP").Equal(d("-6")))

	_, err = c.ReducePosition(ctx, "HYP", model.SideLong, d("4"))
	assert.ErrorIs(t, err, apperrors.ErrNoPosition)

	res, err = c.ReducePosition(ctx, "HYP", model.SideShort, d("100"))
	require.NoError(t, err)
	assert.True(t, res.Size.Equal(d("6")))
	assert.True(t, c.Position("HYP").IsZero())

	_, err = c.ReducePosition(ctx, "HYP", model.SideShort, d("0"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestConnector_Validation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t)

	assert.ErrorIs(t, c.ValidateTradingRequirements(ctx, "BTC", model.SideLong, decimal.Zero),
		apperrors.ErrInvalidOrderParameter)
	_, err := c.PlaceMarketOrder(ctx, "BTC", model.SideLong, d("-1"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)

	// 0.01 BTC at 2x needs ~500 margin plus fee
	require.NoError(t, c.ValidateTradingRequirements(ctx, "BTC", model.SideLong, d("0.01")))
	assert.ErrorIs(t, c.ValidateTradingRequirements(ctx, "BTC", model.SideLong, d("0.03")),
		apperrors.ErrInsufficientFunds)

	_, err = c.PlaceMarketOrder(ctx, "BTC", model.SideLong, d("0.015"))
	require.NoError(t, err)
	assert.ErrorIs(t, c.ValidateTradingRequirements(ctx, "BTC", model.SideLong, d("0.01")),
		apperrors.ErrInsufficientFunds)

	assert.ErrorIs(t, c.ValidateTradingRequirements(ctx, "ETH", model.SideLong, d("1")),
		apperrors.ErrInvalidSymbol)
}
