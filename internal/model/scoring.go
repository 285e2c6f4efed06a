package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Priority is a coarse tier derived from spread magnitude
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

var (
	tierCritical = decimal.NewFromFloat(0.002)
	tierHigh     = decimal.NewFromFloat(0.001)
	tierMedium   = decimal.NewFromFloat(0.0005)

	plausibleSpreadMin = decimal.NewFromFloat(0.0002)
	plausibleSpreadMax = decimal.NewFromFloat(0.002)
	riskySpread        = decimal.NewFromFloat(0.005)
)

// Score weights
const (
	maxSpreadPoints     = 40.0
	spreadSaturation    = 200.0
	hourlyFundingBonus  = 20.0
	regularFundingBonus = 10.0
	liquidityWeight     = 15.0
	confidenceWeight    = 15.0
	maxScore            = 100.0
)

// ReputableVenues lists venues whose rate feeds earn a confidence bonus
var ReputableVenues = map[string]bool{
	"binance":     true,
	"kucoin":      true,
	"hyperliquid": true,
}

// PriorityFor maps a spread to its tier
func PriorityFor(spread decimal.Decimal) Priority {
	switch {
	case spread.GreaterThanOrEqual(tierCritical):
		return PriorityCritical
	case spread.GreaterThanOrEqual(tierHigh):
		return PriorityHigh
	case spread.GreaterThanOrEqual(tierMedium):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// SpreadPoints saturates towards 40 so outsized spreads cannot dominate
func SpreadPoints(spread decimal.Decimal) float64 {
	s := math.Abs(spread.InexactFloat64())
	return maxSpreadPoints * (1 - math.Exp(-s*spreadSaturation))
}

// FrequencyBonus rewards pairs that include an hourly-settling venue
func FrequencyBonus(minPeriodHours, maxPeriodHours int) float64 {
	bonus := 0.0
	if minPeriodHours <= 1 {
		bonus += hourlyFundingBonus
	}
	if maxPeriodHours <= 8 {
		bonus += regularFundingBonus
	}
	return bonus
}

// LiquidityScore buckets the smaller 24h quote volume of the two legs
func LiquidityScore(minVolume decimal.Decimal) float64 {
	v := minVolume.InexactFloat64()
	switch {
	case v >= 10_000_000:
		return 1.0
	case v >= 5_000_000:
		return 0.8
	case v >= 1_000_000:
		return 0.6
	case v >= 500_000:
		return 0.4
	default:
		return 0.2
	}
}

// Confidence penalises implausible spreads and off-hours detection
func Confidence(spread decimal.Decimal, venueA, venueB string, at time.Time) float64 {
	c := 0.5
	if spread.GreaterThanOrEqual(plausibleSpreadMin) && spread.LessThanOrEqual(plausibleSpreadMax) {
		c += 0.3
	} else if spread.GreaterThan(plausibleSpreadMax) {
		c -= 0.2
	}
	if ReputableVenues[venueA] && ReputableVenues[venueB] {
		c += 0.2
	}
	if isWeekend(at) {
		c -= 0.1
	}
	return clamp(c, 0, 1)
}

// ExecutionRisk grows with data age, spread size and weekend liquidity
func ExecutionRisk(age time.Duration, spread decimal.Decimal, at time.Time) float64 {
	r := 0.0
	switch {
	case age > 5*time.Minute:
		r += 0.2
	case age > 2*time.Minute:
		r += 0.1
	}
	if spread.GreaterThan(riskySpread) {
		r += 0.3
	}
	if isWeekend(at) {
		r += 0.1
	}
	return clamp(r, 0, 1)
}

// VolatilityRisk treats large absolute rates as a sign of an unstable market
func VolatilityRisk(rateA, rateB decimal.Decimal) float64 {
	total := rateA.Abs().Add(rateB.Abs()).InexactFloat64()
	return clamp(total*100, 0, 1)
}

// ComputeScore combines the score terms. It is non-decreasing in spread,
// liquidity and confidence and is capped at 100.
func ComputeScore(spread decimal.Decimal, minPeriod, maxPeriod int, liquidity, confidence, pairBonus float64) float64 {
	score := SpreadPoints(spread) +
		FrequencyBonus(minPeriod, maxPeriod) +
		liquidityWeight*liquidity +
		confidenceWeight*confidence +
		pairBonus
	return clamp(score, 0, maxScore)
}

// EventsPerDay is the average number of funding settlements per day across
// two venues: 24 divided by the harmonic mean of their periods.
func EventsPerDay(periodA, periodB int) decimal.Decimal {
	if periodA <= 0 {
		periodA = DefaultPeriodHours
	}
	if periodB <= 0 {
		periodB = DefaultPeriodHours
	}
	inv := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(periodA))).
		Add(decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(periodB))))
	return hoursPerDay.Mul(inv).Div(decimal.NewFromInt(2))
}

func isWeekend(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
