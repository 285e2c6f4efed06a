package core

import (
	"time"

	"funding_arb/internal/model"

	"github.com/shopspring/decimal"
)

// MarketData is a top-of-book and reference price view of one instrument
type MarketData struct {
	Venue      string
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	MarkPrice  decimal.Decimal
	Volume24h  decimal.Decimal
	Timestamp  time.Time
}

// Mid returns the bid/ask midpoint, falling back to mark then last
func (m *MarketData) Mid() decimal.Decimal {
	if m.Bid.IsPositive() && m.Ask.IsPositive() {
		return m.Bid.Add(m.Ask).Div(decimal.NewFromInt(2))
	}
	if m.MarkPrice.IsPositive() {
		return m.MarkPrice
	}
	return m.Last
}

// Reference is the price used for marking positions: mark, else last, else mid
func (m *MarketData) Reference() decimal.Decimal {
	if m.MarkPrice.IsPositive() {
		return m.MarkPrice
	}
	if m.Last.IsPositive() {
		return m.Last
	}
	return m.Mid()
}

// OrderResult is the outcome of a filled market order
type OrderResult struct {
	OrderID      string
	Venue        string
	Instrument   string
	Side         model.Side
	Size         decimal.Decimal
	AvgFillPrice decimal.Decimal
	FeesPaid     decimal.Decimal
	Timestamp    time.Time
}

type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// EventType names an engine event
type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventRatesUpdated   EventType = "rates_updated"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventPartialHedge   EventType = "partial_hedge"
	EventEmergencyStop  EventType = "emergency_stop"
	EventStatus         EventType = "status"
)

// Event is a typed engine notification
type Event struct {
	Type EventType   `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}
