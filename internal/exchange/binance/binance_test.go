package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
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

var indices = map[string]premiumIndex{
	"BTCUSDT": {Symbol: "BTCUSDT", MarkPrice: "100000.5", LastFundingRate: "0.00010000", NextFundingTime: 1792000800000, Time: 1791990000000},
	"ETHUSDT": {Symbol: "ETHUSDT", MarkPrice: "3500.1", LastFundingRate: "-0.00005000", NextFundingTime: 1792000800000, Time: 1791990000000},
	"XRPUSDT": {Symbol: "XRPUSDT", MarkPrice: "0.6", LastFundingRate: "0.00020000", NextFundingTime: 1792000800000, Time: 1791990000000},
}

var tickers = map[string]ticker24h{
	"BTCUSDT": {Symbol: "BTCUSDT", LastPrice: "100001", QuoteVolume: "15000000000"},
	"ETHUSDT": {Symbol: "ETHUSDT", LastPrice: "3500", QuoteVolume: "8000000000"},
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	serve := func(w http.ResponseWriter, r *http.Request, single func(string) (interface{}, bool), all interface{}) {
		w.Header().Set("Content-Type", "application/json")
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			_ = json.NewEncoder(w).Encode(all)
			return
		}
		v, ok := single(symbol)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		all := make([]premiumIndex, 0, len(indices))
		for _, v := range indices {
			all = append(all, v)
		}
		serve(w, r, func(s string) (interface{}, bool) { v, ok := indices[s]; return v, ok }, all)
	})
	mux.HandleFunc("/fapi/v1/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		all := make([]ticker24h, 0, len(tickers))
		for _, v := range tickers {
			all = append(all, v)
		}
		serve(w, r, func(s string) (interface{}, bool) { v, ok := tickers[s]; return v, ok }, all)
	})
	mux.HandleFunc("/fapi/v1/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, func(s string) (interface{}, bool) {
			if s != "BTCUSDT" {
				return nil, false
			}
			return bookTicker{Symbol: s, BidPrice: "100000", AskPrice: "100002"}, true
		}, nil)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSource_GetFundingRate(t *testing.T) {
	srv := newTestServer(t)
	src := NewSource(config.VenueConfig{BaseURL: srv.URL}, &mockLogger{})

	require.NoError(t, src.Ping(context.Background()))

	rec, err := src.GetFundingRate(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, Name, rec.Venue)
	assert.Equal(t, "btc", rec.Instrument)
	assert.True(t, rec.Rate.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, rec.MarkPrice.Equal(decimal.RequireFromString("100000.5")))
	assert.True(t, rec.Volume24h.Equal(decimal.RequireFromString("15000000000")))
	assert.Equal(t, 8, rec.PeriodHours)
	assert.Equal(t, int64(1792000800000), rec.NextFundingTime.UnixMilli())
}

func TestSource_UnknownSymbol(t *testing.T) {
	srv := newTestServer(t)
	src := NewSource(config.VenueConfig{BaseURL: srv.URL}, &mockLogger{})

	_, err := src.GetFundingRate(context.Background(), "NOPE")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)
}

func TestSource_GetFundingRatesFilters(t *testing.T) {
	srv := newTestServer(t)
	src := NewSource(config.VenueConfig{BaseURL: srv.URL, FundingPeriodHours: 4}, &mockLogger{})

	rates, err := src.GetFundingRates(context.Background(), []string{"BTC", "ETH", "DOGE"})
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.True(t, rates["ETH"].Rate.Equal(decimal.RequireFromString("-0.00005")))
	assert.Equal(t, 4, rates["ETH"].PeriodHours)
	assert.True(t, rates["BTC"].Volume24h.IsPositive())
	assert.NotContains(t, rates, "XRP")
}

func TestSource_GetMarketData(t *testing.T) {
	srv := newTestServer(t)
	src := NewSource(config.VenueConfig{BaseURL: srv.URL}, &mockLogger{})

	md, err := src.GetMarketData(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, md.Bid.Equal(decimal.NewFromInt(100000)))
	assert.True(t, md.Ask.Equal(decimal.NewFromInt(100002)))
	assert.True(t, md.Mid().Equal(decimal.NewFromInt(100001)))
	assert.True(t, md.MarkPrice.Equal(decimal.RequireFromString("100000.5")))

	_, err = src.GetMarketData(context.Background(), "ETH")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)
}
