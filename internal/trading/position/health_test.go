package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthScore(t *testing.T) {
	pos := journalPosition(t, "BTC")
	pos.Funding.CurrentSpread = dec("0.0014")
	assert.Equal(t, 65.0, HealthScore(pos, wednesday))

	pos.Funding.CurrentSpread = dec("0.0001")
	assert.Equal(t, 45.0, HealthScore(pos, wednesday.Add(200*time.Hour)))

	// ROI 0.5% adds 5 points
	pos.Funding.ShortCollected = dec("5")
	assert.InDelta(t, 60.0, HealthScore(pos, wednesday), 1e-9)

	// ROI term is capped at ±30
	pos.Funding.ShortCollected = dec("500")
	assert.InDelta(t, 85.0, HealthScore(pos, wednesday), 1e-9)

	pos.Funding.ShortCollected = dec("-500")
	pos.Funding.CurrentSpread = dec("-0.001")
	assert.InDelta(t, 0.0, HealthScore(pos, wednesday.Add(200*time.Hour)), 1e-9)
}

func TestReplacementRatio(t *testing.T) {
	assert.InDelta(t, 2.0, ReplacementRatio(60, 30), 1e-9)
	assert.InDelta(t, 6.0, ReplacementRatio(60, 0), 1e-9)
	assert.InDelta(t, 6.0, ReplacementRatio(60, -5), 1e-9)
	assert.InDelta(t, 60.0, ReplacementRatio(60, 1), 1e-9)

	// a zero-health incumbent is not easier to displace than a barely healthy one
	assert.Less(t, ReplacementRatio(12, 0), ReplacementRatio(12, 0.5))
	assert.LessOrEqual(t, ReplacementRatio(12, 0), 1.5)
}
