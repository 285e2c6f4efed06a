package position

import (
	"math"
	"time"

	"funding_arb/internal/model"

	"github.com/shopspring/decimal"
)

const (
	healthBase   = 50.0
	healthROICap = 30.0
	// zeroHealthDivisor scales a candidate against an incumbent with no health left
	zeroHealthDivisor = 10.0
)

var healthGoodSpread = decimal.NewFromFloat(0.0002)

// HealthScore rates an open position in [0, 100]. Higher is healthier.
func HealthScore(pos *model.Position, now time.Time) float64 {
	score := healthBase

	roiPct := pos.ROI().InexactFloat64() * 100
	score += math.Max(-healthROICap, math.Min(healthROICap, roiPct*10))

	switch spread := pos.Funding.CurrentSpread; {
	case spread.GreaterThan(healthGoodSpread):
		score += 10
	case spread.IsNegative():
		score -= 20
	}

	switch age := pos.Age(now); {
	case age < 24*time.Hour:
		score += 5
	case age > 168*time.Hour:
		score -= 5
	}

	return math.Max(0, math.Min(100, score))
}

// ReplacementRatio compares a candidate's risk-adjusted score with an
// incumbent's health. At non-positive health the candidate score is divided
// by a fixed 10 instead.
func ReplacementRatio(candidateRAS, incumbentHealth float64) float64 {
	if incumbentHealth <= 0 {
		return candidateRAS / zeroHealthDivisor
	}
	return candidateRAS / incumbentHealth
}
