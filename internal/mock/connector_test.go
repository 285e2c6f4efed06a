package mock

import (
	"context"
	"errors"
	"testing"

	"funding_arb/internal/model"
	apperrors "funding_arb/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConnector_RequiresConnect(t *testing.T) {
	ctx := context.Background()
	m := NewMockConnector("binance")
	m.SetFundingRate("BTC", decimal.NewFromFloat(0.001))

	_, err := m.GetFundingRate(ctx, "BTC")
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)

	require.NoError(t, m.Connect(ctx))
	assert.True(t, m.IsConnected())
	assert.False(t, m.LastPing().IsZero())

	rec, err := m.GetFundingRate(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "binance", rec.Venue)
	assert.Equal(t, model.DefaultPeriodHours, rec.PeriodHours)
	assert.True(t, rec.NextFundingTime.After(rec.Timestamp))
}

func TestMockConnector_PartialBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMockConnector("kucoin")
	require.NoError(t, m.Connect(ctx))
	m.SetFundingRate("BTC", decimal.NewFromFloat(0.0001))

	rates, err := m.GetFundingRates(ctx, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Len(t, rates, 1)
	assert.Contains(t, rates, "BTC")

	m.FailRates(apperrors.ErrNetwork)
	_, err = m.GetFundingRates(ctx, []string{"BTC"})
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestMockConnector_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMockConnector("hyperliquid")
	require.NoError(t, m.Connect(ctx))
	m.SetPrice("ETH", decimal.NewFromInt(2000))

	res, err := m.PlaceMarketOrder(ctx, "ETH", model.SideShort, decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	assert.True(t, res.AvgFillPrice.Equal(decimal.NewFromInt(2000)))
	assert.True(t, res.FeesPaid.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, m.Position("ETH").Equal(decimal.NewFromFloat(-0.5)))
	assert.Equal(t, []string{"ETH"}, m.OpenInstruments())

	closeRes, err := m.ClosePosition(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, model.SideLong, closeRes.Side)
	assert.True(t, m.Position("ETH").IsZero())
	assert.Len(t, m.Orders(), 2)

	_, err = m.ClosePosition(ctx, "ETH")
	assert.ErrorIs(t, err, apperrors.ErrNoPosition)
}

func TestMockConnector_ReducePosition(t *testing.T) {
	ctx := context.Background()
	m := NewMockConnector("kucoin")
	require.NoError(t, m.Connect(ctx))
	m.SetPrice("BTC", decimal.NewFromInt(100000))

	_, err := m.PlaceMarketOrder(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.02))
	require.NoError(t, err)

	res, err := m.ReducePosition(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	assert.Equal(t, model.SideShort, res.Side)
	assert.True(t, m.Position("BTC").Equal(decimal.NewFromFloat(0.01)))

	_, err = m.ReducePosition(ctx, "BTC", model.SideShort, decimal.NewFromFloat(0.01))
	assert.ErrorIs(t, err, apperrors.ErrNoPosition)

	res, err = m.ReducePosition(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.05))
	require.NoError(t, err)
	assert.True(t, res.Size.Equal(decimal.NewFromFloat(0.01)))
	assert.Empty(t, m.OpenInstruments())
	assert.Equal(t, 3, m.CloseCalls())
}

func TestMockConnector_FailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMockConnector("binance")

	m.FailConnect(apperrors.ErrNetwork)
	assert.Error(t, m.Connect(ctx))
	assert.Equal(t, 1, m.ConnectionErrors())
	m.FailConnect(nil)
	require.NoError(t, m.Connect(ctx))

	m.SetPrice("BTC", decimal.NewFromInt(100000))
	m.FailPlace(apperrors.ErrOrderRejected)
	_, err := m.PlaceMarketOrder(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.01))
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
	assert.Equal(t, 1, m.PlaceCalls())
	m.FailPlace(nil)

	_, err = m.PlaceMarketOrder(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.01))
	require.NoError(t, err)

	m.FailClose(apperrors.ErrNetwork, 2)
	_, err = m.ClosePosition(ctx, "BTC")
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
	_, err = m.ClosePosition(ctx, "BTC")
	assert.Error(t, err)
	_, err = m.ClosePosition(ctx, "BTC")
	assert.NoError(t, err)
	assert.Equal(t, 3, m.CloseCalls())

	m.FailPing(apperrors.ErrNetwork)
	assert.Error(t, m.Ping(ctx))
	assert.False(t, m.IsConnected())
}

func TestMockConnector_ValidateMargin(t *testing.T) {
	ctx := context.Background()
	m := NewMockConnector("binance")
	require.NoError(t, m.Connect(ctx))
	m.SetPrice("BTC", decimal.NewFromInt(100000))
	m.SetBalance(decimal.NewFromInt(100))

	assert.NoError(t, m.ValidateTradingRequirements(ctx, "BTC", model.SideLong, decimal.NewFromFloat(0.001)))
	err := m.ValidateTradingRequirements(ctx, "BTC", model.SideLong, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}
