// Package binance reads funding and market data from Binance USDⓈ-M futures
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/exchange/base"
	"funding_arb/internal/model"
	apihttp "funding_arb/pkg/http"

	"github.com/shopspring/decimal"
)

const (
	Name              = "binance"
	defaultFuturesURL = "https://fapi.binance.com"
	periodHours       = 8
	quoteAsset        = "USDT"
)

type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

type ticker24h struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	QuoteVolume string `json:"quoteVolume"`
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// Source implements core.IMarketSource over the public futures REST API
type Source struct {
	*base.Adapter
}

var _ core.IMarketSource = (*Source)(nil)

func NewSource(cfg config.VenueConfig, logger core.ILogger) *Source {
	return &Source{Adapter: base.NewAdapter(Name, cfg, defaultFuturesURL, "X-MBX-APIKEY", logger)}
}

func Symbol(instrument string) string {
	return strings.ToUpper(instrument) + quoteAsset
}

func (s *Source) Name() string {
	return Name
}

func (s *Source) Ping(ctx context.Context) error {
	_, err := s.Client.Get(ctx, "/fapi/v1/ping", nil)
	return err
}

func (s *Source) GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error) {
	var idx premiumIndex
	if err := s.get(ctx, "/fapi/v1/premiumIndex", instrument, &idx); err != nil {
		return nil, err
	}
	var t ticker24h
	if err := s.get(ctx, "/fapi/v1/ticker/24hr", instrument, &t); err != nil {
		s.Logger.Debug("24h ticker unavailable", "instrument", instrument, "error", err)
	}
	rec := s.record(instrument, idx, s.ParseDecimal(t.QuoteVolume))
	return &rec, nil
}

func (s *Source) GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error) {
	body, err := s.Client.Get(ctx, "/fapi/v1/premiumIndex", nil)
	if err != nil {
		return nil, s.mapError(err, "")
	}
	var all []premiumIndex
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("decode premiumIndex: %w", err)
	}

	volumes := make(map[string]decimal.Decimal)
	if body, err := s.Client.Get(ctx, "/fapi/v1/ticker/24hr", nil); err == nil {
		var tickers []ticker24h
		if json.Unmarshal(body, &tickers) == nil {
			for _, t := range tickers {
				volumes[t.Symbol] = s.ParseDecimal(t.QuoteVolume)
			}
		}
	} else {
		s.Logger.Debug("24h tickers unavailable", "error", err)
	}

	wanted := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		wanted[Symbol(inst)] = inst
	}

	out := make(map[string]*model.RateRecord, len(instruments))
	for _, idx := range all {
		inst, ok := wanted[idx.Symbol]
		if !ok {
			continue
		}
		rec := s.record(inst, idx, volumes[idx.Symbol])
		out[inst] = &rec
	}
	return out, nil
}

func (s *Source) GetMarketData(ctx context.Context, instrument string) (*core.MarketData, error) {
	var book bookTicker
	if err := s.get(ctx, "/fapi/v1/ticker/bookTicker", instrument, &book); err != nil {
		return nil, err
	}
	var t ticker24h
	if err := s.get(ctx, "/fapi/v1/ticker/24hr", instrument, &t); err != nil {
		return nil, err
	}
	var idx premiumIndex
	if err := s.get(ctx, "/fapi/v1/premiumIndex", instrument, &idx); err != nil {
		return nil, err
	}
	return &core.MarketData{
		Venue:      Name,
		Instrument: instrument,
		Bid:        s.ParseDecimal(book.BidPrice),
		Ask:        s.ParseDecimal(book.AskPrice),
		Last:       s.ParseDecimal(t.LastPrice),
		MarkPrice:  s.ParseDecimal(idx.MarkPrice),
		Volume24h:  s.ParseDecimal(t.QuoteVolume),
		Timestamp:  time.Now(),
	}, nil
}

func (s *Source) record(instrument string, idx premiumIndex, volume decimal.Decimal) model.RateRecord {
	ts := s.ParseTimestamp(idx.Time)
	if ts.IsZero() {
		ts = time.Now()
	}
	return model.RateRecord{
		Venue:           Name,
		Instrument:      instrument,
		Rate:            s.ParseDecimal(idx.LastFundingRate),
		NextFundingTime: s.ParseTimestamp(idx.NextFundingTime),
		PeriodHours:     s.PeriodHours(periodHours),
		Timestamp:       ts,
		MarkPrice:       s.ParseDecimal(idx.MarkPrice),
		Volume24h:       volume,
	}
}

func (s *Source) get(ctx context.Context, path, instrument string, out interface{}) error {
	body, err := s.Client.Get(ctx, path, map[string]string{"symbol": Symbol(instrument)})
	if err != nil {
		return s.mapError(err, instrument)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// mapError turns Binance's invalid symbol code into ErrInvalidSymbol
func (s *Source) mapError(err error, instrument string) error {
	var apiErr *apihttp.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 400 {
		var body struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(apiErr.Body, &body) == nil && body.Code == -1121 {
			return s.UnknownInstrument(instrument)
		}
	}
	return fmt.Errorf("%s: %w", Name, err)
}
