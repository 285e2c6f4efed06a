package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateSnapshot_Immutable(t *testing.T) {
	input := map[string]map[string]RateRecord{
		"binance": {"BTC": {Venue: "binance", Instrument: "BTC", Rate: d("0.0001"), PeriodHours: 8}},
		"kucoin":  {"BTC": {Venue: "kucoin", Instrument: "BTC", Rate: d("0.0002"), PeriodHours: 8}},
		"empty":   {},
	}
	snap := NewRateSnapshot(weekday, input)

	input["binance"]["BTC"] = RateRecord{Rate: d("9")}
	delete(input, "kucoin")

	rec, ok := snap.Rate("binance", "BTC")
	require.True(t, ok)
	assert.True(t, rec.Rate.Equal(d("0.0001")))
	assert.True(t, snap.HasVenue("kucoin"))
	assert.False(t, snap.HasVenue("empty"))
	assert.Equal(t, []string{"binance", "kucoin"}, snap.Venues())

	copied := snap.VenueRates("kucoin")
	copied["BTC"] = RateRecord{Rate: d("5")}
	venues := snap.Venues()
	venues[0] = "mutated"

	first, _ := snap.Rate("kucoin", "BTC")
	second, _ := snap.Rate("kucoin", "BTC")
	assert.Equal(t, first, second)
	assert.True(t, first.Rate.Equal(d("0.0002")))
	assert.Equal(t, "binance", snap.Venues()[0])
	assert.Equal(t, 2, snap.Len())
}

func TestRateSnapshot_Staleness(t *testing.T) {
	snap := NewRateSnapshot(weekday, nil)
	assert.Equal(t, 0, snap.VenueCount())
	assert.False(t, snap.IsStale(weekday.Add(time.Minute), 5*time.Minute))
	assert.True(t, snap.IsStale(weekday.Add(6*time.Minute), 5*time.Minute))
}

func TestRateRecord_Derived(t *testing.T) {
	hourly := RateRecord{Rate: d("0.0001"), PeriodHours: 1}
	assert.True(t, hourly.DailyRate().Equal(d("0.0024")))
	assert.True(t, hourly.AnnualRate().Equal(d("0.876")))

	unknown := RateRecord{Rate: d("0.0008")}
	assert.Equal(t, 8, unknown.Period())
	assert.True(t, unknown.DailyRate().Equal(d("0.0024")))
}
