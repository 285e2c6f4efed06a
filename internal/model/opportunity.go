package model

import (
	"fmt"
	"time"

	apperrors "funding_arb/pkg/errors"

	"github.com/shopspring/decimal"
)

// Side is the directional sign of a leg
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the hedging side
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Execution gate thresholds
const (
	OpportunityMaxAge   = 30 * time.Minute
	OpportunityStaleAge = 5 * time.Minute
	MinConfidence       = 0.3
	MaxExecutionRisk    = 0.7
)

// VenueLeg describes one side of a candidate hedge
type VenueLeg struct {
	Venue       string          `json:"venue"`
	Rate        decimal.Decimal `json:"rate"`
	Side        Side            `json:"side"`
	PeriodHours int             `json:"period_hours"`
	Price       decimal.Decimal `json:"price"`
	Volume24h   decimal.Decimal `json:"volume_24h"`
}

// LegFromRecord builds an unsided leg from a rate observation
func LegFromRecord(rec RateRecord) VenueLeg {
	return VenueLeg{
		Venue:       rec.Venue,
		Rate:        rec.Rate,
		PeriodHours: rec.Period(),
		Price:       rec.MarkPrice,
		Volume24h:   rec.Volume24h,
	}
}

// Opportunity is a detected funding spread between two venues for one instrument
type Opportunity struct {
	Instrument string   `json:"instrument"`
	PairID     string   `json:"pair_id"`
	LongLeg    VenueLeg `json:"long_leg"`
	ShortLeg   VenueLeg `json:"short_leg"`

	Spread          decimal.Decimal `json:"spread"`
	DailyProfitRate decimal.Decimal `json:"daily_profit_rate"`
	Score           float64         `json:"score"`
	Priority        Priority        `json:"priority"`
	Confidence      float64         `json:"confidence"`
	ExecutionRisk   float64         `json:"execution_risk"`
	VolatilityRisk  float64         `json:"volatility_risk"`
	PairBonus       float64         `json:"pair_bonus"`
	DetectedAt      time.Time       `json:"detected_at"`
}

// NewOpportunity orients the two legs (lower rate is long) and computes every
// derived field as of now.
func NewOpportunity(instrument, pairID string, a, b VenueLeg, pairBonus float64, now time.Time) *Opportunity {
	o := &Opportunity{
		Instrument: instrument,
		PairID:     pairID,
		PairBonus:  pairBonus,
		DetectedAt: now,
	}
	o.orient(a, b)
	o.recompute(now)
	return o
}

func (o *Opportunity) orient(a, b VenueLeg) {
	if b.Rate.LessThan(a.Rate) {
		a, b = b, a
	}
	a.Side = SideLong
	b.Side = SideShort
	o.LongLeg = a
	o.ShortLeg = b
}

func (o *Opportunity) recompute(now time.Time) {
	o.Spread = o.ShortLeg.Rate.Sub(o.LongLeg.Rate).Abs()
	o.Priority = PriorityFor(o.Spread)
	o.DailyProfitRate = o.Spread.Mul(EventsPerDay(o.LongLeg.PeriodHours, o.ShortLeg.PeriodHours))
	o.Confidence = Confidence(o.Spread, o.LongLeg.Venue, o.ShortLeg.Venue, o.DetectedAt)
	o.ExecutionRisk = ExecutionRisk(o.Age(now), o.Spread, o.DetectedAt)
	o.VolatilityRisk = VolatilityRisk(o.LongLeg.Rate, o.ShortLeg.Rate)

	minP, maxP := o.LongLeg.PeriodHours, o.ShortLeg.PeriodHours
	if minP > maxP {
		minP, maxP = maxP, minP
	}
	o.Score = ComputeScore(o.Spread, minP, maxP, o.Liquidity(), o.Confidence, o.PairBonus)
}

// UpdateMarketData replaces both legs' rates and prices with fresher values
// and recomputes every derived field. Legs are re-oriented if the rates crossed.
func (o *Opportunity) UpdateMarketData(longRate, shortRate, longPrice, shortPrice decimal.Decimal, now time.Time) {
	a, b := o.LongLeg, o.ShortLeg
	a.Rate, b.Rate = longRate, shortRate
	if !longPrice.IsZero() {
		a.Price = longPrice
	}
	if !shortPrice.IsZero() {
		b.Price = shortPrice
	}
	o.DetectedAt = now
	o.orient(a, b)
	o.recompute(now)
}

// Liquidity is the bucketed score of the thinner leg's 24h volume
func (o *Opportunity) Liquidity() float64 {
	minVol := o.LongLeg.Volume24h
	if o.ShortLeg.Volume24h.LessThan(minVol) {
		minVol = o.ShortLeg.Volume24h
	}
	return LiquidityScore(minVol)
}

// RiskAdjustedScore = score × (1 − avg(volatilityRisk, executionRisk)) × confidence
func (o *Opportunity) RiskAdjustedScore() float64 {
	avgRisk := (o.VolatilityRisk + o.ExecutionRisk) / 2
	return o.Score * (1 - avgRisk) * o.Confidence
}

// ExpectedDailyProfit is the USD funding income per day for the given notional
func (o *Opportunity) ExpectedDailyProfit(notional decimal.Decimal) decimal.Decimal {
	return o.DailyProfitRate.Mul(notional)
}

// MidPrice averages whichever leg prices are known
func (o *Opportunity) MidPrice() (decimal.Decimal, bool) {
	lp, sp := o.LongLeg.Price, o.ShortLeg.Price
	switch {
	case lp.IsPositive() && sp.IsPositive():
		return lp.Add(sp).Div(decimal.NewFromInt(2)), true
	case lp.IsPositive():
		return lp, true
	case sp.IsPositive():
		return sp, true
	}
	return decimal.Zero, false
}

func (o *Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}

func (o *Opportunity) IsValid(now time.Time) bool {
	return o.Age(now) < OpportunityMaxAge
}

func (o *Opportunity) IsStale(now time.Time) bool {
	return o.Age(now) > OpportunityStaleAge
}

// Key identifies the (pair, instrument) slot the opportunity would occupy
func (o *Opportunity) Key() string {
	return PositionKey(o.PairID, o.Instrument)
}

// ShouldExecute is the final gate before capital is committed
func (o *Opportunity) ShouldExecute(now time.Time, minSpread decimal.Decimal, minScore float64) error {
	switch {
	case !o.IsValid(now):
		return fmt.Errorf("%w: expired (age %s)", apperrors.ErrOpportunityInvalid, o.Age(now).Round(time.Second))
	case o.IsStale(now):
		return fmt.Errorf("%w: %w (age %s)", apperrors.ErrOpportunityInvalid, apperrors.ErrStaleData, o.Age(now).Round(time.Second))
	case o.Spread.LessThan(minSpread):
		return fmt.Errorf("%w: spread %s below %s", apperrors.ErrOpportunityInvalid, o.Spread, minSpread)
	case o.Score < minScore:
		return fmt.Errorf("%w: score %.1f below %.1f", apperrors.ErrOpportunityInvalid, o.Score, minScore)
	case o.Confidence <= MinConfidence:
		return fmt.Errorf("%w: confidence %.2f", apperrors.ErrOpportunityInvalid, o.Confidence)
	case o.ExecutionRisk >= MaxExecutionRisk:
		return fmt.Errorf("%w: execution risk %.2f", apperrors.ErrOpportunityInvalid, o.ExecutionRisk)
	}
	return nil
}

func (o *Opportunity) String() string {
	return fmt.Sprintf("%s %s long=%s(%s) short=%s(%s) spread=%s score=%.1f",
		o.PairID, o.Instrument, o.LongLeg.Venue, o.LongLeg.Rate, o.ShortLeg.Venue, o.ShortLeg.Rate, o.Spread, o.Score)
}
