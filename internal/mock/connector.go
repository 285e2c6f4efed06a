// Package mock provides a scriptable in-memory venue connector for tests and dry runs
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"
	apperrors "funding_arb/pkg/errors"

	"github.com/shopspring/decimal"
)

// MockConnector implements core.IVenueConnector. Fills happen instantly at the
// configured price; failures are injected with the Fail* setters.
type MockConnector struct {
	name string
	mu   sync.RWMutex

	connected  bool
	lastPing   time.Time
	connErrors int

	periodHours int
	rates       map[string]decimal.Decimal
	prices      map[string]decimal.Decimal
	volume      decimal.Decimal
	fee         decimal.Decimal
	balance     decimal.Decimal
	leverage    decimal.Decimal
	positions   map[string]decimal.Decimal

	orderIDCounter int64
	orders         []*core.OrderResult
	placeCalls     int
	closeCalls     int

	connectErr    error
	pingErr       error
	rateErr       error
	placeErr      error
	placeErrs     map[string]error
	closeErr      error
	closeFailures int
	validateErr   error
	placeDelay    time.Duration
}

var _ core.IVenueConnector = (*MockConnector)(nil)

func NewMockConnector(name string) *MockConnector {
	return &MockConnector{
		name:        name,
		periodHours: model.DefaultPeriodHours,
		rates:       make(map[string]decimal.Decimal),
		prices:      make(map[string]decimal.Decimal),
		volume:      decimal.NewFromInt(20_000_000),
		fee:         decimal.NewFromFloat(0.0005),
		balance:     decimal.NewFromInt(100_000),
		leverage:    decimal.NewFromInt(3),
		positions:   make(map[string]decimal.Decimal),
		placeErrs:   make(map[string]error),
	}
}

// Setters

func (m *MockConnector) SetFundingRate(instrument string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[instrument] = rate
}

func (m *MockConnector) SetPrice(instrument string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[instrument] = price
}

func (m *MockConnector) SetPeriodHours(h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periodHours = h
}

func (m *MockConnector) SetVolume(v decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = v
}

func (m *MockConnector) SetFee(fee decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fee = fee
}

func (m *MockConnector) SetBalance(b decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = b
}

func (m *MockConnector) SetPlaceDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeDelay = d
}

// Failure injection

func (m *MockConnector) FailConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// FailPing makes Ping fail and marks the connector disconnected
func (m *MockConnector) FailPing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *MockConnector) FailRates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateErr = err
}

func (m *MockConnector) FailPlace(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErr = err
}

func (m *MockConnector) FailPlaceFor(instrument string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErrs[instrument] = err
}

// FailClose makes the next n ClosePosition or ReducePosition calls return err.
// n < 0 fails forever.
func (m *MockConnector) FailClose(err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
	m.closeFailures = n
}

func (m *MockConnector) FailValidate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateErr = err
}

// Drop simulates a dropped connection without going through Disconnect(ctx)
func (m *MockConnector) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Inspection

func (m *MockConnector) Orders() []*core.OrderResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.OrderResult, len(m.orders))
	copy(out, m.orders)
	return out
}

func (m *MockConnector) Position(instrument string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[instrument]
}

// OpenInstruments lists instruments with a non-zero net position
func (m *MockConnector) OpenInstruments() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for inst, size := range m.positions {
		if !size.IsZero() {
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MockConnector) PlaceCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.placeCalls
}

func (m *MockConnector) CloseCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCalls
}

// IVenueConnector

func (m *MockConnector) Name() string {
	return m.name
}

func (m *MockConnector) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		m.connErrors++
		return fmt.Errorf("%s connect: %w", m.name, m.connectErr)
	}
	m.connected = true
	m.lastPing = time.Now()
	return nil
}

func (m *MockConnector) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockConnector) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingErr != nil {
		m.connErrors++
		m.connected = false
		return fmt.Errorf("%s ping: %w", m.name, m.pingErr)
	}
	m.connected = true
	m.lastPing = time.Now()
	return nil
}

func (m *MockConnector) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockConnector) LastPing() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPing
}

func (m *MockConnector) ConnectionErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connErrors
}

func (m *MockConnector) GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readableLocked(); err != nil {
		return nil, err
	}
	return m.rateLocked(instrument, time.Now())
}

func (m *MockConnector) GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readableLocked(); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make(map[string]*model.RateRecord, len(instruments))
	for _, inst := range instruments {
		if rec, err := m.rateLocked(inst, now); err == nil {
			out[inst] = rec
		}
	}
	return out, nil
}

func (m *MockConnector) readableLocked() error {
	if !m.connected {
		return fmt.Errorf("%s: %w", m.name, apperrors.ErrNotConnected)
	}
	if m.rateErr != nil {
		return fmt.Errorf("%s: %w", m.name, m.rateErr)
	}
	return nil
}

func (m *MockConnector) rateLocked(instrument string, now time.Time) (*model.RateRecord, error) {
	rate, ok := m.rates[instrument]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", m.name, instrument, apperrors.ErrInvalidSymbol)
	}
	period := time.Duration(m.periodHours) * time.Hour
	return &model.RateRecord{
		Venue:           m.name,
		Instrument:      instrument,
		Rate:            rate,
		NextFundingTime: now.Truncate(period).Add(period),
		PeriodHours:     m.periodHours,
		Timestamp:       now,
		MarkPrice:       m.prices[instrument],
		Volume24h:       m.volume,
	}, nil
}

func (m *MockConnector) GetMarketData(ctx context.Context, instrument string) (*core.MarketData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, fmt.Errorf("%s: %w", m.name, apperrors.ErrNotConnected)
	}
	price, ok := m.prices[instrument]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", m.name, instrument, apperrors.ErrInvalidSymbol)
	}
	return &core.MarketData{
		Venue:      m.name,
		Instrument: instrument,
		Bid:        price,
		Ask:        price,
		Last:       price,
		MarkPrice:  price,
		Volume24h:  m.volume,
		Timestamp:  time.Now(),
	}, nil
}

func (m *MockConnector) PlaceMarketOrder(ctx context.Context, instrument string, side model.Side, size decimal.Decimal) (*core.OrderResult, error) {
	m.mu.RLock()
	delay := m.placeDelay
	m.mu.RUnlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeCalls++

	if !m.connected {
		return nil, fmt.Errorf("%s: %w", m.name, apperrors.ErrNotConnected)
	}
	if err := m.placeErrs[instrument]; err != nil {
		return nil, fmt.Errorf("%s place %s: %w", m.name, instrument, err)
	}
	if m.placeErr != nil {
		return nil, fmt.Errorf("%s place %s: %w", m.name, instrument, m.placeErr)
	}
	if !size.IsPositive() {
		return nil, fmt.Errorf("%s size %s: %w", m.name, size, apperrors.ErrInvalidOrderParameter)
	}
	price, ok := m.prices[instrument]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", m.name, instrument, apperrors.ErrInvalidSymbol)
	}

	signed := size
	if side == model.SideShort {
		signed = size.Neg()
	}
	m.positions[instrument] = m.positions[instrument].Add(signed)
	return m.fillLocked(instrument, side, size, price), nil
}

func (m *MockConnector) ClosePosition(ctx context.Context, instrument string) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++

	if m.closeFailures != 0 && m.closeErr != nil {
		if m.closeFailures > 0 {
			m.closeFailures--
		}
		return nil, fmt.Errorf("%s close %s: %w", m.name, instrument, m.closeErr)
	}
	pos := m.positions[instrument]
	if pos.IsZero() {
		return nil, fmt.Errorf("%s %s: %w", m.name, instrument, apperrors.ErrNoPosition)
	}
	price, ok := m.prices[instrument]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", m.name, instrument, apperrors.ErrInvalidSymbol)
	}

	side := model.SideShort
	if pos.IsNegative() {
		side = model.SideLong
	}
	delete(m.positions, instrument)
	return m.fillLocked(instrument, side, pos.Abs(), price), nil
}

// ReducePosition trades against the held side only, never past flat
func (m *MockConnector) ReducePosition(ctx context.Context, instrument string, held model.Side, size decimal.Decimal) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++

	if m.closeFailures != 0 && m.closeErr != nil {
		if m.closeFailures > 0 {
			m.closeFailures--
		}
		return nil, fmt.Errorf("%s reduce %s: %w", m.name, instrument, m.closeErr)
	}
	if !size.IsPositive() {
		return nil, fmt.Errorf("%s size %s: %w", m.name, size, apperrors.ErrInvalidOrderParameter)
	}
	pos := m.positions[instrument]
	if held == model.SideShort {
		pos = pos.Neg()
	}
	if !pos.IsPositive() {
		return nil, fmt.Errorf("%s %s %s: %w", m.name, held, instrument, apperrors.ErrNoPosition)
	}
	price, ok := m.prices[instrument]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", m.name, instrument, apperrors.ErrInvalidSymbol)
	}

	qty := decimal.Min(size, pos)
	signed := qty.Neg()
	if held == model.SideShort {
		signed = qty
	}
	next := m.positions[instrument].Add(signed)
	if next.IsZero() {
		delete(m.positions, instrument)
	} else {
		m.positions[instrument] = next
	}
	return m.fillLocked(instrument, held.Opposite(), qty, price), nil
}

func (m *MockConnector) fillLocked(instrument string, side model.Side, size, price decimal.Decimal) *core.OrderResult {
	m.orderIDCounter++
	fee := size.Mul(price).Mul(m.fee)
	m.balance = m.balance.Sub(fee)
	res := &core.OrderResult{
		OrderID:      fmt.Sprintf("%s-%d", m.name, m.orderIDCounter),
		Venue:        m.name,
		Instrument:   instrument,
		Side:         side,
		Size:         size,
		AvgFillPrice: price,
		FeesPaid:     fee,
		Timestamp:    time.Now(),
	}
	m.orders = append(m.orders, res)
	return res
}

func (m *MockConnector) ValidateTradingRequirements(ctx context.Context, instrument string, side model.Side, size decimal.Decimal) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return fmt.Errorf("%s: %w", m.name, apperrors.ErrNotConnected)
	}
	if m.validateErr != nil {
		return fmt.Errorf("%s: %w", m.name, m.validateErr)
	}
	price, ok := m.prices[instrument]
	if !ok {
		return fmt.Errorf("%s %s: %w", m.name, instrument, apperrors.ErrInvalidSymbol)
	}
	margin := size.Mul(price).Div(m.leverage)
	if margin.GreaterThan(m.balance) {
		return fmt.Errorf("%s needs %s margin, has %s: %w", m.name, margin.StringFixed(2), m.balance.StringFixed(2), apperrors.ErrInsufficientFunds)
	}
	return nil
}
