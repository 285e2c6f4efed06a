// Package model holds the domain entities shared by the oracle, the position
// manager and the engine.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPeriodHours is used when a venue does not report its funding interval
const DefaultPeriodHours = 8

var (
	hoursPerDay = decimal.NewFromInt(24)
	daysPerYear = decimal.NewFromInt(365)
)

// RateRecord is one funding rate observation for an instrument on a venue
type RateRecord struct {
	Venue           string          `json:"venue"`
	Instrument      string          `json:"instrument"`
	Rate            decimal.Decimal `json:"rate"`
	NextFundingTime time.Time       `json:"next_funding_time"`
	PeriodHours     int             `json:"period_hours"`
	Timestamp       time.Time       `json:"timestamp"`

	// Optional, zero when the venue did not report them alongside the rate
	MarkPrice decimal.Decimal `json:"mark_price"`
	Volume24h decimal.Decimal `json:"volume_24h"`
}

// Period returns the funding interval in hours, defaulting to 8
func (r RateRecord) Period() int {
	if r.PeriodHours <= 0 {
		return DefaultPeriodHours
	}
	return r.PeriodHours
}

// DailyRate scales the per-period rate to a 24h equivalent
func (r RateRecord) DailyRate() decimal.Decimal {
	return r.Rate.Mul(hoursPerDay).Div(decimal.NewFromInt(int64(r.Period())))
}

// AnnualRate scales the per-period rate to a 365 day equivalent
func (r RateRecord) AnnualRate() decimal.Decimal {
	return r.DailyRate().Mul(daysPerYear)
}

// RateSnapshot is an immutable point-in-time view of every venue's rates.
// All accessors return copies; there are no mutators.
type RateSnapshot struct {
	timestamp time.Time
	rates     map[string]map[string]RateRecord
	venues    []string
}

// NewRateSnapshot deep-copies rates. Venues with no records are dropped.
func NewRateSnapshot(ts time.Time, rates map[string]map[string]RateRecord) *RateSnapshot {
	copied := make(map[string]map[string]RateRecord, len(rates))
	venues := make([]string, 0, len(rates))
	for venue, byInstrument := range rates {
		if len(byInstrument) == 0 {
			continue
		}
		inner := make(map[string]RateRecord, len(byInstrument))
		for instrument, rec := range byInstrument {
			inner[instrument] = rec
		}
		copied[venue] = inner
		venues = append(venues, venue)
	}
	sort.Strings(venues)

	return &RateSnapshot{
		timestamp: ts,
		rates:     copied,
		venues:    venues,
	}
}

func (s *RateSnapshot) Timestamp() time.Time {
	return s.timestamp
}

// Venues returns the venues that contributed at least one rate, sorted
func (s *RateSnapshot) Venues() []string {
	out := make([]string, len(s.venues))
	copy(out, s.venues)
	return out
}

func (s *RateSnapshot) VenueCount() int {
	return len(s.venues)
}

func (s *RateSnapshot) HasVenue(venue string) bool {
	_, ok := s.rates[venue]
	return ok
}

// Rate returns the record for venue/instrument
func (s *RateSnapshot) Rate(venue, instrument string) (RateRecord, bool) {
	byInstrument, ok := s.rates[venue]
	if !ok {
		return RateRecord{}, false
	}
	rec, ok := byInstrument[instrument]
	return rec, ok
}

// VenueRates returns a copy of all records for a venue
func (s *RateSnapshot) VenueRates(venue string) map[string]RateRecord {
	byInstrument := s.rates[venue]
	out := make(map[string]RateRecord, len(byInstrument))
	for k, v := range byInstrument {
		out[k] = v
	}
	return out
}

// Instruments returns the sorted instruments quoted by venue
func (s *RateSnapshot) Instruments(venue string) []string {
	byInstrument := s.rates[venue]
	out := make([]string, 0, len(byInstrument))
	for k := range byInstrument {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len is the total number of records across venues
func (s *RateSnapshot) Len() int {
	n := 0
	for _, byInstrument := range s.rates {
		n += len(byInstrument)
	}
	return n
}

func (s *RateSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.timestamp)
}

func (s *RateSnapshot) IsStale(now time.Time, ttl time.Duration) bool {
	return s.Age(now) > ttl
}
