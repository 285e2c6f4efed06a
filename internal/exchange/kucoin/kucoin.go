// Package kucoin reads funding and market data from KuCoin Futures
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/exchange/base"
	"funding_arb/internal/model"

	"github.com/shopspring/decimal"
)

const (
	Name              = "kucoin"
	defaultFuturesURL = "https://api-futures.kucoin.com"
	periodHours       = 8
	codeOK            = "200000"
)

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type contract struct {
	Symbol                 string          `json:"symbol"`
	BaseCurrency           string          `json:"baseCurrency"`
	FundingFeeRate         decimal.Decimal `json:"fundingFeeRate"`
	NextFundingRateTime    int64           `json:"nextFundingRateTime"`
	FundingRateGranularity int64           `json:"fundingRateGranularity"`
	MarkPrice              decimal.Decimal `json:"markPrice"`
	LastTradePrice         decimal.Decimal `json:"lastTradePrice"`
	TurnoverOf24h          decimal.Decimal `json:"turnoverOf24h"`
}

type ticker struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	BestBidPrice decimal.Decimal `json:"bestBidPrice"`
	BestAskPrice decimal.Decimal `json:"bestAskPrice"`
}

// Source implements core.IMarketSource over the public futures REST API
type Source struct {
	*base.Adapter
	now func() time.Time
}

var _ core.IMarketSource = (*Source)(nil)

func NewSource(cfg config.VenueConfig, logger core.ILogger) *Source {
	return &Source{
		Adapter: base.NewAdapter(Name, cfg, defaultFuturesURL, "KC-API-KEY", logger),
		now:     time.Now,
	}
}

// Symbol maps BTC to XBTUSDTM and everything else to <INST>USDTM
func Symbol(instrument string) string {
	inst := strings.ToUpper(instrument)
	if inst == "BTC" {
		inst = "XBT"
	}
	return inst + "USDTM"
}

func (s *Source) Name() string {
	return Name
}

func (s *Source) Ping(ctx context.Context) error {
	return s.call(ctx, "/api/v1/timestamp", nil, nil)
}

func (s *Source) GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error) {
	var c contract
	if err := s.call(ctx, "/api/v1/contracts/"+Symbol(instrument), nil, &c); err != nil {
		return nil, err
	}
	if c.Symbol == "" {
		return nil, s.UnknownInstrument(instrument)
	}
	rec := s.record(instrument, c)
	return &rec, nil
}

func (s *Source) GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error) {
	var all []contract
	if err := s.call(ctx, "/api/v1/contracts/active", nil, &all); err != nil {
		return nil, err
	}

	wanted := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		wanted[Symbol(inst)] = inst
	}

	out := make(map[string]*model.RateRecord, len(instruments))
	for _, c := range all {
		inst, ok := wanted[c.Symbol]
		if !ok {
			continue
		}
		rec := s.record(inst, c)
		out[inst] = &rec
	}
	return out, nil
}

func (s *Source) GetMarketData(ctx context.Context, instrument string) (*core.MarketData, error) {
	var t ticker
	if err := s.call(ctx, "/api/v1/ticker", map[string]string{"symbol": Symbol(instrument)}, &t); err != nil {
		return nil, err
	}
	if t.Symbol == "" {
		return nil, s.UnknownInstrument(instrument)
	}
	var c contract
	if err := s.call(ctx, "/api/v1/contracts/"+Symbol(instrument), nil, &c); err != nil {
		return nil, err
	}
	return &core.MarketData{
		Venue:      Name,
		Instrument: instrument,
		Bid:        t.BestBidPrice,
		Ask:        t.BestAskPrice,
		Last:       t.Price,
		MarkPrice:  c.MarkPrice,
		Volume24h:  c.TurnoverOf24h,
		Timestamp:  s.now(),
	}, nil
}

func (s *Source) record(instrument string, c contract) model.RateRecord {
	now := s.now()
	period := s.PeriodHours(periodHours)
	if c.FundingRateGranularity > 0 {
		period = int(time.Duration(c.FundingRateGranularity) * time.Millisecond / time.Hour)
	}
	next := base.NextBoundary(now, period)
	if c.NextFundingRateTime > 0 {
		next = now.Add(time.Duration(c.NextFundingRateTime) * time.Millisecond)
	}
	return model.RateRecord{
		Venue:           Name,
		Instrument:      instrument,
		Rate:            c.FundingFeeRate,
		NextFundingTime: next,
		PeriodHours:     period,
		Timestamp:       now,
		MarkPrice:       c.MarkPrice,
		Volume24h:       c.TurnoverOf24h,
	}
}

// call unwraps KuCoin's {code, msg, data} envelope into out
func (s *Source) call(ctx context.Context, path string, params map[string]string, out interface{}) error {
	body, err := s.Client.Get(ctx, path, params)
	if err != nil {
		return fmt.Errorf("%s: %w", Name, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Code != codeOK {
		return fmt.Errorf("%s %s: code %s: %s", Name, path, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
