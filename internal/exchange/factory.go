// Package exchange builds venue connectors from configuration
package exchange

import (
	"fmt"
	"strings"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/exchange/binance"
	"funding_arb/internal/exchange/hyperliquid"
	"funding_arb/internal/exchange/kucoin"
	"funding_arb/internal/exchange/paper"
	"funding_arb/internal/mock"
	apperrors "funding_arb/pkg/errors"

	"github.com/shopspring/decimal"
)

// NewSource returns the public market data reader for a venue
func NewSource(venueName string, venueCfg config.VenueConfig, logger core.ILogger) (core.IMarketSource, error) {
	switch strings.ToLower(venueName) {
	case binance.Name:
		return binance.NewSource(venueCfg, logger), nil
	case kucoin.Name:
		return kucoin.NewSource(venueCfg, logger), nil
	case hyperliquid.Name:
		return hyperliquid.NewSource(venueCfg, logger), nil
	default:
		return nil, fmt.Errorf("venue %s: %w", venueName, apperrors.ErrUnsupported)
	}
}

// NewConnector creates a venue connector based on the venue's configured mode
func NewConnector(venueName string, cfg *config.Config, logger core.ILogger) (core.IVenueConnector, error) {
	venueCfg, exists := cfg.Venues[venueName]
	if !exists {
		return nil, fmt.Errorf("configuration not found for venue: %s", venueName)
	}

	switch venueCfg.Mode {
	case config.ModeMock:
		return newMock(venueName, venueCfg), nil
	case config.ModePaper, "":
		source, err := NewSource(venueName, venueCfg, logger)
		if err != nil {
			return nil, err
		}
		return paper.NewConnector(source, paper.Config{
			TakerFee:       venueCfg.TakerFee,
			InitialBalance: venueCfg.InitialBalance,
			Leverage:       cfg.Trading.MaxLeverage,
		}, logger), nil
	case config.ModeLive:
		return nil, fmt.Errorf("venue %s: live order routing: %w", venueName, apperrors.ErrUnsupported)
	default:
		return nil, fmt.Errorf("venue %s: unknown mode %q", venueName, venueCfg.Mode)
	}
}

func newMock(venueName string, venueCfg config.VenueConfig) *mock.MockConnector {
	m := mock.NewMockConnector(venueName)
	for inst, rate := range venueCfg.MockRates {
		m.SetFundingRate(inst, decimal.NewFromFloat(rate))
	}
	for inst, price := range venueCfg.MockPrices {
		m.SetPrice(inst, decimal.NewFromFloat(price))
	}
	if venueCfg.FundingPeriodHours > 0 {
		m.SetPeriodHours(venueCfg.FundingPeriodHours)
	}
	if venueCfg.TakerFee > 0 {
		m.SetFee(decimal.NewFromFloat(venueCfg.TakerFee))
	}
	if venueCfg.InitialBalance > 0 {
		m.SetBalance(decimal.NewFromFloat(venueCfg.InitialBalance))
	}
	return m
}
