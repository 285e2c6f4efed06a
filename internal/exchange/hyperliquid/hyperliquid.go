// Package hyperliquid reads funding and market data from the Hyperliquid info API
package hyperliquid

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
	Name        = "hyperliquid"
	defaultURL  = "https://api.hyperliquid.xyz"
	periodHours = 1
)

type infoRequest struct {
	Type string `json:"type"`
}

type universe struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type assetCtx struct {
	Funding   decimal.Decimal `json:"funding"`
	MarkPx    decimal.Decimal `json:"markPx"`
	MidPx     decimal.Decimal `json:"midPx"`
	DayNtlVlm decimal.Decimal `json:"dayNtlVlm"`
}

// Source implements core.IMarketSource over POST /info
type Source struct {
	*base.Adapter
	now func() time.Time
}

var _ core.IMarketSource = (*Source)(nil)

func NewSource(cfg config.VenueConfig, logger core.ILogger) *Source {
	return &Source{
		Adapter: base.NewAdapter(Name, cfg, defaultURL, "", logger),
		now:     time.Now,
	}
}

func (s *Source) Name() string {
	return Name
}

func (s *Source) Ping(ctx context.Context) error {
	_, err := s.Client.Post(ctx, "/info", infoRequest{Type: "allMids"})
	if err != nil {
		return fmt.Errorf("%s: %w", Name, err)
	}
	return nil
}

// contexts returns every asset context keyed by coin name
func (s *Source) contexts(ctx context.Context) (map[string]assetCtx, error) {
	body, err := s.Client.Post(ctx, "/info", infoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("decode metaAndAssetCtxs: %w", err)
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("decode metaAndAssetCtxs: expected 2 elements, got %d", len(parts))
	}

	var meta universe
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(parts[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}
	if len(ctxs) != len(meta.Universe) {
		return nil, fmt.Errorf("decode metaAndAssetCtxs: %d assets but %d contexts", len(meta.Universe), len(ctxs))
	}

	out := make(map[string]assetCtx, len(ctxs))
	for i, asset := range meta.Universe {
		out[strings.ToUpper(asset.Name)] = ctxs[i]
	}
	return out, nil
}

func (s *Source) GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error) {
	all, err := s.contexts(ctx)
	if err != nil {
		return nil, err
	}
	ac, ok := all[strings.ToUpper(instrument)]
	if !ok {
		return nil, s.UnknownInstrument(instrument)
	}
	rec := s.record(instrument, ac)
	return &rec, nil
}

func (s *Source) GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error) {
	all, err := s.contexts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.RateRecord, len(instruments))
	for _, inst := range instruments {
		if ac, ok := all[strings.ToUpper(inst)]; ok {
			rec := s.record(inst, ac)
			out[inst] = &rec
		}
	}
	return out, nil
}

// GetMarketData reports the mid as last. The info endpoint carries no top of
// book, so Bid and Ask are left zero and consumers fall back to mark.
func (s *Source) GetMarketData(ctx context.Context, instrument string) (*core.MarketData, error) {
	all, err := s.contexts(ctx)
	if err != nil {
		return nil, err
	}
	ac, ok := all[strings.ToUpper(instrument)]
	if !ok {
		return nil, s.UnknownInstrument(instrument)
	}
	return &core.MarketData{
		Venue:      Name,
		Instrument: instrument,
		Last:       ac.MidPx,
		MarkPrice:  ac.MarkPx,
		Volume24h:  ac.DayNtlVlm,
		Timestamp:  s.now(),
	}, nil
}

func (s *Source) record(instrument string, ac assetCtx) model.RateRecord {
	now := s.now()
	period := s.PeriodHours(periodHours)
	return model.RateRecord{
		Venue:           Name,
		Instrument:      instrument,
		Rate:            ac.Funding,
		NextFundingTime: base.NextBoundary(now, period),
		PeriodHours:     period,
		Timestamp:       now,
		MarkPrice:       ac.MarkPx,
		Volume24h:       ac.DayNtlVlm,
	}
}
