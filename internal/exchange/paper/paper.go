// Package paper wraps a live market data source with simulated order fills
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"
	apperrors "funding_arb/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultTakerFee = 0.0005
	defaultBalance  = 10000
	defaultLeverage = 3
)

type Config struct {
	TakerFee       float64
	InitialBalance float64
	Leverage       float64
}

type holding struct {
	size  decimal.Decimal // signed, positive is long
	entry decimal.Decimal
}

// Connector implements core.IVenueConnector. Market data comes from the
// wrapped source; buys fill at the ask and sells at the bid.
type Connector struct {
	source core.IMarketSource
	logger core.ILogger
	now    func() time.Time

	fee      decimal.Decimal
	leverage decimal.Decimal

	mu         sync.RWMutex
	connected  bool
	lastPing   time.Time
	connErrors int
	balance    decimal.Decimal
	holdings   map[string]*holding
}

var _ core.IVenueConnector = (*Connector)(nil)

func NewConnector(source core.IMarketSource, cfg Config, logger core.ILogger) *Connector {
	if cfg.TakerFee <= 0 {
		cfg.TakerFee = defaultTakerFee
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = defaultBalance
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = defaultLeverage
	}
	return &Connector{
		source:   source,
		logger:   logger.WithField("component", "paper_connector").WithField("venue", source.Name()),
		now:      time.Now,
		fee:      decimal.NewFromFloat(cfg.TakerFee),
		leverage: decimal.NewFromFloat(cfg.Leverage),
		balance:  decimal.NewFromFloat(cfg.InitialBalance),
		holdings: make(map[string]*holding),
	}
}

func (c *Connector) Name() string {
	return c.source.Name()
}

func (c *Connector) Connect(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", c.Name(), err)
	}
	c.logger.Info("Paper connector connected")
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *Connector) Ping(ctx context.Context) error {
	err := c.source.Ping(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.connected = false
		c.connErrors++
		return err
	}
	c.connected = true
	c.lastPing = c.now()
	return nil
}

func (c *Connector) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Connector) LastPing() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

func (c *Connector) ConnectionErrors() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connErrors
}

func (c *Connector) requireConnected() error {
	if !c.IsConnected() {
		return fmt.Errorf("%s: %w", c.Name(), apperrors.ErrNotConnected)
	}
	return nil
}

func (c *Connector) GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	return c.source.GetFundingRate(ctx, instrument)
}

func (c *Connector) GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	return c.source.GetFundingRates(ctx, instruments)
}

func (c *Connector) GetMarketData(ctx context.Context, instrument string) (*core.MarketData, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	return c.source.GetMarketData(ctx, instrument)
}

// fillPrice is the ask for buys and the bid for sells, falling back to the
// reference price when the venue publishes no book
func fillPrice(md *core.MarketData, side model.Side) decimal.Decimal {
	if side == model.SideLong && md.Ask.IsPositive() {
		return md.Ask
	}
	if side == model.SideShort && md.Bid.IsPositive() {
		return md.Bid
	}
	return md.Reference()
}

func (c *Connector) quote(ctx context.Context, instrument string, side model.Side) (decimal.Decimal, error) {
	md, err := c.GetMarketData(ctx, instrument)
	if err != nil {
		return decimal.Zero, err
	}
	price := fillPrice(md, side)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s %s: no price: %w", c.Name(), instrument, apperrors.ErrOrderRejected)
	}
	return price, nil
}

func (c *Connector) PlaceMarketOrder(ctx context.Context, instrument string, side model.Side, size decimal.Decimal) (*core.OrderResult, error) {
	if !size.IsPositive() {
		return nil, fmt.Errorf("size %s: %w", size, apperrors.ErrInvalidOrderParameter)
	}
	price, err := c.quote(ctx, instrument, side)
	if err != nil {
		return nil, err
	}
	return c.fill(instrument, side, size, price), nil
}

func (c *Connector) ClosePosition(ctx context.Context, instrument string) (*core.OrderResult, error) {
	c.mu.RLock()
	h, ok := c.holdings[instrument]
	var size decimal.Decimal
	if ok {
		size = h.size
	}
	c.mu.RUnlock()

	if size.IsZero() {
		return nil, fmt.Errorf("%s %s: %w", c.Name(), instrument, apperrors.ErrNoPosition)
	}

	side := model.SideShort
	if size.IsNegative() {
		side = model.SideLong
	}
	price, err := c.quote(ctx, instrument, side)
	if err != nil {
		return nil, err
	}
	return c.fill(instrument, side, size.Abs(), price), nil
}

// ReducePosition sells down a long or buys back a short by up to size. It
// never flips the holding, so other hedges sharing the instrument keep their
// share of it.
func (c *Connector) ReducePosition(ctx context.Context, instrument string, held model.Side, size decimal.Decimal) (*core.OrderResult, error) {
	if !size.IsPositive() {
		return nil, fmt.Errorf("size %s: %w", size, apperrors.ErrInvalidOrderParameter)
	}
	amount := c.Position(instrument)
	if held == model.SideShort {
		amount = amount.Neg()
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%s %s %s: %w", c.Name(), held, instrument, apperrors.ErrNoPosition)
	}

	side := held.Opposite()
	price, err := c.quote(ctx, instrument, side)
	if err != nil {
		return nil, err
	}
	return c.fill(instrument, side, decimal.Min(size, amount), price), nil
}

// fill books a trade against the holding, realising P&L on any reduced size
func (c *Connector) fill(instrument string, side model.Side, size, price decimal.Decimal) *core.OrderResult {
	signed := size
	if side == model.SideShort {
		signed = size.Neg()
	}
	fee := size.Mul(price).Mul(c.fee)

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.holdings[instrument]
	if !ok {
		h = &holding{}
		c.holdings[instrument] = h
	}

	realized := decimal.Zero
	switch {
	case h.size.IsZero() || h.size.Sign() == signed.Sign():
		total := h.size.Add(signed)
		h.entry = h.entry.Mul(h.size.Abs()).Add(price.Mul(size)).Div(total.Abs())
		h.size = total
	default:
		closing := decimal.Min(size, h.size.Abs())
		realized = price.Sub(h.entry).Mul(closing)
		if h.size.IsNegative() {
			realized = realized.Neg()
		}
		h.size = h.size.Add(signed)
		if h.size.IsZero() {
			delete(c.holdings, instrument)
		} else if h.size.Sign() == signed.Sign() {
			h.entry = price
		}
	}
	c.balance = c.balance.Add(realized).Sub(fee)

	res := &core.OrderResult{
		OrderID:      uuid.NewString(),
		Venue:        c.Name(),
		Instrument:   instrument,
		Side:         side,
		Size:         size,
		AvgFillPrice: price,
		FeesPaid:     fee,
		Timestamp:    c.now(),
	}
	c.logger.Info("Paper fill",
		"instrument", instrument,
		"side", side,
		"size", size,
		"price", price,
		"fee", fee,
		"realized", realized)
	return res
}

// ValidateTradingRequirements checks that the margin for size at the current
// fill price plus its fee fits in the balance not already committed
func (c *Connector) ValidateTradingRequirements(ctx context.Context, instrument string, side model.Side, size decimal.Decimal) error {
	if !size.IsPositive() {
		return fmt.Errorf("size %s: %w", size, apperrors.ErrInvalidOrderParameter)
	}
	price, err := c.quote(ctx, instrument, side)
	if err != nil {
		return err
	}
	notional := size.Mul(price)
	required := notional.Div(c.leverage).Add(notional.Mul(c.fee))

	available := c.Available()
	if required.GreaterThan(available) {
		return fmt.Errorf("%s needs %s, has %s: %w", c.Name(), required.StringFixed(2), available.StringFixed(2),
			apperrors.ErrInsufficientFunds)
	}
	return nil
}

// Balance is cash after fees and realised P&L
func (c *Connector) Balance() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance
}

// Available is the balance minus margin held by open holdings
func (c *Connector) Available() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	used := decimal.Zero
	for _, h := range c.holdings {
		used = used.Add(h.size.Abs().Mul(h.entry).Div(c.leverage))
	}
	return c.balance.Sub(used)
}

// Position returns the signed size held on instrument
func (c *Connector) Position(instrument string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.holdings[instrument]; ok {
		return h.size
	}
	return decimal.Zero
}

func (c *Connector) OpenInstruments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.holdings))
	for inst := range c.holdings {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}
