package exchange

import (
	"context"
	"testing"

	"funding_arb/internal/config"
	"funding_arb/internal/exchange/paper"
	"funding_arb/internal/mock"
	apperrors "funding_arb/pkg/errors"
	"funding_arb/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnector_Modes(t *testing.T) {
	logger, _ := logging.NewZapLogger("INFO")
	cfg := &config.Config{
		Trading: config.TradingConfig{MaxLeverage: 3},
		Venues: map[string]config.VenueConfig{
			"binance": {Mode: config.ModePaper},
			"kucoin": {
				Mode:               config.ModeMock,
				FundingPeriodHours: 4,
				MockRates:          map[string]float64{"BTC": -0.0004},
				MockPrices:         map[string]float64{"BTC": 100000},
			},
			"hyperliquid": {Mode: config.ModeLive, APIKey: "k", APISecret: "s"},
			"deribit":     {Mode: config.ModePaper},
		},
	}

	conn, err := NewConnector("binance", cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &paper.Connector{}, conn)
	assert.Equal(t, "binance", conn.Name())

	conn, err = NewConnector("kucoin", cfg, logger)
	require.NoError(t, err)
	m, ok := conn.(*mock.MockConnector)
	require.True(t, ok)
	require.NoError(t, m.Connect(context.Background()))
	rec, err := m.GetFundingRate(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.PeriodHours)
	assert.True(t, rec.Rate.IsNegative())

	_, err = NewConnector("hyperliquid", cfg, logger)
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)

	_, err = NewConnector("deribit", cfg, logger)
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)

	_, err = NewConnector("missing", cfg, logger)
	assert.Error(t, err)
}
