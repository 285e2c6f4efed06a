// Package oracle collects funding rates across venues and turns each
// snapshot into ranked arbitrage opportunities.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"
	"funding_arb/pkg/concurrency"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultHistorySize  = 1000
	DefaultSpreadWindow = 100
	DefaultStaleAfter   = 5 * time.Minute
)

// Pair is one allowed venue combination
type Pair struct {
	ID     string
	VenueA string
	VenueB string
	Bonus  float64
}

// Config for the Oracle
type Config struct {
	Instruments       []string
	Pairs             []Pair
	MinSpread         decimal.Decimal
	VenueTimeout      time.Duration
	RequestsPerSecond float64
	StaleAfter        time.Duration
	HistorySize       int
	SpreadWindow      int
	Clock             func() time.Time // Defaults to time.Now
}

// VenueError tags a fetch failure with its venue
type VenueError struct {
	Venue string
	Err   error
}

func (e VenueError) Error() string {
	return fmt.Sprintf("%s: %v", e.Venue, e.Err)
}

func (e VenueError) Unwrap() error {
	return e.Err
}

// Stats summarises refresh activity
type Stats struct {
	TotalUpdates  int64     `json:"total_updates"`
	FailedUpdates int64     `json:"failed_updates"`
	SuccessRate   float64   `json:"success_rate"`
	LastUpdate    time.Time `json:"last_update"`
	LiveVenues    int       `json:"live_venues"`
}

// Oracle owns the latest rate snapshot and the opportunities derived from it
type Oracle struct {
	cfg      Config
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
	sink     core.IEventSink
	pool     *concurrency.WorkerPool
	venues   map[string]core.IVenueConnector
	limiters map[string]*rate.Limiter

	latest atomic.Pointer[model.RateSnapshot]

	mu            sync.RWMutex
	opportunities []*model.Opportunity
	history       *snapshotRing
	spreads       map[string]*spreadWindow
	totalUpdates  int64
	failedUpdates int64
	lastUpdate    time.Time

	now func() time.Time
}

// New builds an Oracle over the given live connectors. sink and metrics may be nil.
func New(cfg Config, venues map[string]core.IVenueConnector, logger core.ILogger, metrics *telemetry.MetricsHolder, sink core.IEventSink) *Oracle {
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.SpreadWindow <= 0 {
		cfg.SpreadWindow = DefaultSpreadWindow
	}

	log := logger.WithField("component", "rate_oracle")
	limiters := make(map[string]*rate.Limiter, len(venues))
	for name := range venues {
		limiters[name] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	workers := len(venues)
	if workers == 0 {
		workers = 1
	}

	return &Oracle{
		cfg:      cfg,
		logger:   log,
		metrics:  metrics,
		sink:     sink,
		pool:     concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "rate_oracle", MaxWorkers: workers, MaxCapacity: workers * 4}, log),
		venues:   venues,
		limiters: limiters,
		history:  newSnapshotRing(cfg.HistorySize),
		spreads:  make(map[string]*spreadWindow),
		now:      cfg.Clock,
	}
}

// Close stops the worker pool
func (o *Oracle) Close() {
	o.pool.Stop()
}

// Refresh fetches every configured instrument from every connected venue.
// Venue failures are returned alongside the snapshot and never abort the
// other venues.
func (o *Oracle) Refresh(ctx context.Context) (*model.RateSnapshot, []VenueError) {
	var (
		mu      sync.Mutex
		collect = make(map[string]map[string]model.RateRecord, len(o.venues))
		errs    []VenueError
	)

	tasks := make([]func(), 0, len(o.venues))
	for name, venue := range o.venues {
		name, venue := name, venue
		if !venue.IsConnected() {
			continue
		}
		tasks = append(tasks, func() {
			rates, err := o.fetchVenue(ctx, name, venue)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, VenueError{Venue: name, Err: err})
			}
			if len(rates) > 0 {
				collect[name] = rates
			}
		})
	}
	o.pool.RunAll(tasks)

	snap := model.NewRateSnapshot(o.now(), collect)
	o.latest.Store(snap)

	o.mu.Lock()
	o.history.push(snap)
	o.totalUpdates++
	if len(errs) > 0 {
		o.failedUpdates++
	}
	o.lastUpdate = snap.Timestamp()
	o.mu.Unlock()

	sort.Slice(errs, func(i, j int) bool { return errs[i].Venue < errs[j].Venue })
	for _, e := range errs {
		o.logger.Warn("Venue rate fetch failed", "venue", e.Venue, "error", e.Err)
	}
	o.logger.Debug("Rates refreshed", "venues", snap.VenueCount(), "records", snap.Len(), "errors", len(errs))
	o.publish(core.EventRatesUpdated, map[string]interface{}{
		"venues":  snap.Venues(),
		"records": snap.Len(),
		"errors":  len(errs),
	})
	return snap, errs
}

// fetchVenue tries one batch call and falls back to per-instrument calls
// paced by the venue limiter. Partial results are kept.
func (o *Oracle) fetchVenue(ctx context.Context, name string, venue core.IVenueConnector) (map[string]model.RateRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		o.metrics.ObserveVenueLatency(ctx, name, float64(time.Since(start).Milliseconds()))
	}()

	out := make(map[string]model.RateRecord, len(o.cfg.Instruments))
	limiter := o.limiters[name]

	if err := limiter.Wait(ctx); err != nil {
		return out, err
	}
	batch, err := venue.GetFundingRates(ctx, o.cfg.Instruments)
	if err == nil {
		for inst, rec := range batch {
			if rec != nil {
				out[inst] = *rec
			}
		}
		return out, nil
	}

	o.metrics.IncVenueFailure(ctx, name)
	o.logger.Debug("Batch rate fetch failed, falling back to single", "venue", name, "error", err)

	var lastErr error
	for _, inst := range o.cfg.Instruments {
		if err := limiter.Wait(ctx); err != nil {
			return out, err
		}
		rec, err := venue.GetFundingRate(ctx, inst)
		if err != nil {
			lastErr = err
			continue
		}
		out[inst] = *rec
	}
	if len(out) == 0 && lastErr != nil {
		return out, lastErr
	}
	return out, nil
}

// DetectOpportunities scans the pair allow-list on one snapshot. The result
// is sorted by risk-adjusted score, best first.
func (o *Oracle) DetectOpportunities(snap *model.RateSnapshot) []*model.Opportunity {
	if snap == nil || snap.VenueCount() < 2 {
		return nil
	}

	now := snap.Timestamp()
	var opps []*model.Opportunity

	for _, pair := range o.cfg.Pairs {
		if !snap.HasVenue(pair.VenueA) || !snap.HasVenue(pair.VenueB) {
			continue
		}

		best := decimal.Zero
		for _, inst := range snap.Instruments(pair.VenueA) {
			a, _ := snap.Rate(pair.VenueA, inst)
			b, ok := snap.Rate(pair.VenueB, inst)
			if !ok {
				continue
			}

			spread := a.Rate.Sub(b.Rate).Abs()
			o.recordSpread(pair.ID, spread)
			if spread.GreaterThan(best) {
				best = spread
			}
			if spread.LessThan(o.cfg.MinSpread) {
				continue
			}

			opp := model.NewOpportunity(inst, pair.ID, model.LegFromRecord(a), model.LegFromRecord(b), pair.Bonus, now)
			opps = append(opps, opp)
			o.metrics.SetQualityScore(pair.ID, opp.Score)
		}
		o.metrics.SetBestSpread(pair.ID, best.InexactFloat64())
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].RiskAdjustedScore() > opps[j].RiskAdjustedScore()
	})
	return opps
}

// Cycle refreshes and detects on the same snapshot
func (o *Oracle) Cycle(ctx context.Context) ([]*model.Opportunity, []VenueError) {
	snap, errs := o.Refresh(ctx)
	opps := o.DetectOpportunities(snap)

	o.mu.Lock()
	o.opportunities = opps
	o.mu.Unlock()

	o.metrics.SetOpportunities(len(opps))
	if len(opps) > 0 {
		o.logger.Info("Opportunities detected", "count", len(opps), "best", opps[0].String())
	}
	return opps, errs
}

// Latest returns the most recent snapshot or nil
func (o *Oracle) Latest() *model.RateSnapshot {
	return o.latest.Load()
}

// Opportunities returns up to topN of the latest ranked opportunities. topN <= 0 returns all.
func (o *Oracle) Opportunities(topN int) []*model.Opportunity {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := len(o.opportunities)
	if topN > 0 && topN < n {
		n = topN
	}
	out := make([]*model.Opportunity, n)
	copy(out, o.opportunities[:n])
	return out
}

// SpreadStatistics over the recent window for a pair
func (o *Oracle) SpreadStatistics(pairID string) (SpreadStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	w, ok := o.spreads[pairID]
	if !ok {
		return SpreadStats{}, false
	}
	return w.stats(), true
}

// RateHistory returns up to n most recent records for venue/instrument, newest first
func (o *Oracle) RateHistory(venue, instrument string, n int) []model.RateRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.history.rates(venue, instrument, n)
}

func (o *Oracle) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := Stats{
		TotalUpdates:  o.totalUpdates,
		FailedUpdates: o.failedUpdates,
		LastUpdate:    o.lastUpdate,
		LiveVenues:    o.connectedVenues(),
	}
	if o.totalUpdates > 0 {
		s.SuccessRate = float64(o.totalUpdates-o.failedUpdates) / float64(o.totalUpdates)
	}
	return s
}

// IsHealthy requires a fresh snapshot and at least two connected venues
func (o *Oracle) IsHealthy(now time.Time) error {
	snap := o.latest.Load()
	if snap == nil {
		return fmt.Errorf("no rate snapshot yet")
	}
	if snap.IsStale(now, o.cfg.StaleAfter) {
		return fmt.Errorf("rate snapshot is %s old", snap.Age(now).Truncate(time.Second))
	}
	if n := o.connectedVenues(); n < 2 {
		return fmt.Errorf("only %d venues connected", n)
	}
	return nil
}

func (o *Oracle) connectedVenues() int {
	n := 0
	for _, v := range o.venues {
		if v.IsConnected() {
			n++
		}
	}
	return n
}

func (o *Oracle) recordSpread(pairID string, spread decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.spreads[pairID]
	if !ok {
		w = newSpreadWindow(o.cfg.SpreadWindow)
		o.spreads[pairID] = w
	}
	w.add(spread.InexactFloat64())
}

func (o *Oracle) publish(t core.EventType, data interface{}) {
	if o.sink == nil {
		return
	}
	o.sink.Publish(core.Event{Type: t, Time: o.now(), Data: data})
}
