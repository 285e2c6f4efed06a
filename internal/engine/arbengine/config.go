package arbengine

import (
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/trading/oracle"
	"funding_arb/internal/trading/position"

	"github.com/shopspring/decimal"
)

const (
	defaultInterval    = 300 * time.Second
	defaultTopN        = 5
	defaultStatusEvery = 20
	defaultMaxErrors   = 10
	defaultEventBuffer = 256
)

// EngineConfig holds everything the control loop needs
type EngineConfig struct {
	Interval             time.Duration
	TopOpportunities     int
	StatusLogEvery       int
	MaxConsecutiveErrors int
	VenueTimeout         time.Duration
	OrderTimeout         time.Duration
	MinLiveVenues        int
	RequestsPerSecond    float64
	EventBuffer          int

	Instruments []string
	Pairs       []oracle.Pair
	MinSpread   decimal.Decimal
	MinScore    float64

	MaxDailyLoss      decimal.Decimal
	EmergencyStopLoss decimal.Decimal
	Location          *time.Location

	Position position.Config
}

// NewEngineConfig maps the validated application config onto the engine
func NewEngineConfig(cfg *config.Config) EngineConfig {
	pairs := make([]oracle.Pair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, oracle.Pair{ID: p.Name, VenueA: p.VenueA, VenueB: p.VenueB, Bonus: p.Bonus})
	}

	minSpread := decimal.NewFromFloat(cfg.Trading.MinSpreadThreshold)
	rps := 0.0
	for _, name := range cfg.EnabledVenues() {
		if v := cfg.Venues[name].RequestsPerSecond; rps == 0 || (v > 0 && v < rps) {
			rps = v
		}
	}

	return EngineConfig{
		Interval:             cfg.Engine.EvaluationInterval,
		TopOpportunities:     cfg.Engine.TopOpportunities,
		StatusLogEvery:       cfg.Engine.StatusLogEvery,
		MaxConsecutiveErrors: cfg.Engine.MaxConsecutiveErrors,
		VenueTimeout:         cfg.Engine.VenueTimeout,
		OrderTimeout:         cfg.Engine.OrderTimeout,
		MinLiveVenues:        cfg.Engine.MinLiveVenues,
		RequestsPerSecond:    rps,
		Instruments:          cfg.Trading.Instruments,
		Pairs:                pairs,
		MinSpread:            minSpread,
		MinScore:             cfg.Trading.MinScore,
		MaxDailyLoss:         decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		EmergencyStopLoss:    decimal.NewFromFloat(cfg.Risk.EmergencyStopLoss),
		Position: position.Config{
			Notional:             decimal.NewFromFloat(cfg.Trading.PositionSizeUSD),
			Leverage:             decimal.NewFromFloat(cfg.Trading.MaxLeverage),
			MaxPositions:         cfg.Trading.MaxConcurrentPositions,
			MinSpread:            minSpread,
			MinScore:             cfg.Trading.MinScore,
			StopLoss:             decimal.NewFromFloat(cfg.Risk.StopLossThreshold),
			MinProfit:            decimal.NewFromFloat(cfg.Risk.MinProfitThreshold),
			MaxPositionAge:       cfg.Risk.MaxPositionAge,
			ReplacementThreshold: cfg.Trading.ReplacementThreshold,
			VenueTimeout:         cfg.Engine.VenueTimeout,
		},
	}
}

func (c *EngineConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.TopOpportunities <= 0 {
		c.TopOpportunities = defaultTopN
	}
	if c.StatusLogEvery <= 0 {
		c.StatusLogEvery = defaultStatusEvery
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = defaultMaxErrors
	}
	if c.VenueTimeout <= 0 {
		c.VenueTimeout = 10 * time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 30 * time.Second
	}
	if c.MinLiveVenues < 2 {
		c.MinLiveVenues = 2
	}
	if !c.MaxDailyLoss.IsNegative() {
		c.MaxDailyLoss = decimal.NewFromFloat(-0.01)
	}
	if !c.EmergencyStopLoss.IsNegative() {
		c.EmergencyStopLoss = decimal.NewFromFloat(-0.02)
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Position.VenueTimeout <= 0 {
		c.Position.VenueTimeout = c.VenueTimeout
	}
}
