// Package core defines the core interfaces for the funding arbitrage system
package core

import (
	"context"
	"time"

	"funding_arb/internal/model"

	"github.com/shopspring/decimal"
)

// IMarketSource is a read-only view of a venue's public market data
type IMarketSource interface {
	Name() string
	Ping(ctx context.Context) error
	GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error)
	// GetFundingRates returns whatever subset it could fetch; a nil error with
	// missing instruments is a partial result.
	GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error)
	GetMarketData(ctx context.Context, instrument string) (*MarketData, error)
}

// IVenueConnector is the full capability surface the core consumes per venue
type IVenueConnector interface {
	Name() string

	// Lifecycle
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error

	// Market data
	GetFundingRate(ctx context.Context, instrument string) (*model.RateRecord, error)
	GetFundingRates(ctx context.Context, instruments []string) (map[string]*model.RateRecord, error)
	GetMarketData(ctx context.Context, instrument string) (*MarketData, error)

	// Trading
	PlaceMarketOrder(ctx context.Context, instrument string, side model.Side, size decimal.Decimal) (*OrderResult, error)
	// ClosePosition flattens the venue's whole net holding in instrument
	ClosePosition(ctx context.Context, instrument string) (*OrderResult, error)
	// ReducePosition trades size against a held side without flipping it.
	// It returns ErrNoPosition when nothing is held on that side.
	ReducePosition(ctx context.Context, instrument string, held model.Side, size decimal.Decimal) (*OrderResult, error)
	ValidateTradingRequirements(ctx context.Context, instrument string, side model.Side, size decimal.Decimal) error

	// Connection state
	IsConnected() bool
	LastPing() time.Time
	ConnectionErrors() int
}

// IPositionJournal persists position records so a restart can pick up the
// hedges and the day's realised P&L of the previous run
type IPositionJournal interface {
	Record(ctx context.Context, pos *model.Position) error
	// ListOpen returns positions not yet closed
	ListOpen(ctx context.Context) ([]*model.Position, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]*model.Position, error)
	Close() error
}

// ICircuitBreaker trips after repeated cycle failures or trade losses
type ICircuitBreaker interface {
	IsTripped() bool
	RecordCycle(err error) bool
	RecordTrade(pnl decimal.Decimal)
	Reset()
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// IAlerter delivers operator notifications
type IAlerter interface {
	Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string)
}

// IEventSink receives engine events. Publish must not block.
type IEventSink interface {
	Publish(event Event)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
