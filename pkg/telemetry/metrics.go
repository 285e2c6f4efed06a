package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPnLRealizedTotal   = "funding_arb_pnl_realized_total"
	MetricPnLUnrealized      = "funding_arb_pnl_unrealized"
	MetricPositionsOpen      = "funding_arb_positions_open"
	MetricHedgesOpenedTotal  = "funding_arb_hedges_opened_total"
	MetricHedgesClosedTotal  = "funding_arb_hedges_closed_total"
	MetricPartialHedgesTotal = "funding_arb_partial_hedges_total"
	MetricOpportunities      = "funding_arb_opportunities"
	MetricBestSpread         = "funding_arb_best_spread"
	MetricQualityScore       = "funding_arb_quality_score"
	MetricCircuitBreakerOpen = "funding_arb_circuit_breaker_open"
	MetricEngineState        = "funding_arb_engine_state"
	MetricDailyPnLFraction   = "funding_arb_daily_pnl_fraction"
	MetricLatencyVenue       = "funding_arb_latency_venue_ms"
	MetricVenueFailuresTotal = "funding_arb_venue_failures_total"
	MetricCycleDuration      = "funding_arb_cycle_duration_seconds"
)

// MetricsHolder holds initialized instruments and the state behind observable gauges.
// Every method is safe to call before InitMetrics; recording is skipped until then.
type MetricsHolder struct {
	PnLRealizedTotal   metric.Float64Counter
	HedgesOpenedTotal  metric.Int64Counter
	HedgesClosedTotal  metric.Int64Counter
	PartialHedgesTotal metric.Int64Counter
	VenueFailuresTotal metric.Int64Counter
	LatencyVenue       metric.Float64Histogram
	CycleDuration      metric.Float64Histogram

	PnLUnrealized      metric.Float64ObservableGauge
	PositionsOpen      metric.Int64ObservableGauge
	Opportunities      metric.Int64ObservableGauge
	BestSpread         metric.Float64ObservableGauge
	QualityScore       metric.Float64ObservableGauge
	CircuitBreakerOpen metric.Int64ObservableGauge
	EngineState        metric.Int64ObservableGauge
	DailyPnLFraction   metric.Float64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	unrealizedPnLMap map[string]float64
	bestSpreadMap    map[string]float64
	qualityScoreMap  map[string]float64
	cbOpenMap        map[string]int64
	positionsOpen    int64
	opportunities    int64
	engineState      int64
	dailyPnLFraction float64
}

// NewMetricsHolder creates an empty holder; call InitMetrics to bind instruments
func NewMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		unrealizedPnLMap: make(map[string]float64),
		bestSpreadMap:    make(map[string]float64),
		qualityScoreMap:  make(map[string]float64),
		cbOpenMap:        make(map[string]int64),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized net profit/loss in USD"))
	if err != nil {
		return err
	}

	m.HedgesOpenedTotal, err = meter.Int64Counter(MetricHedgesOpenedTotal, metric.WithDescription("Hedged positions opened"))
	if err != nil {
		return err
	}

	m.HedgesClosedTotal, err = meter.Int64Counter(MetricHedgesClosedTotal, metric.WithDescription("Hedged positions closed"))
	if err != nil {
		return err
	}

	m.PartialHedgesTotal, err = meter.Int64Counter(MetricPartialHedgesTotal, metric.WithDescription("Opens where only one leg filled"))
	if err != nil {
		return err
	}

	m.VenueFailuresTotal, err = meter.Int64Counter(MetricVenueFailuresTotal, metric.WithDescription("Failed venue rate collections"))
	if err != nil {
		return err
	}

	m.LatencyVenue, err = meter.Float64Histogram(MetricLatencyVenue, metric.WithDescription("Latency of venue rate collection"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration, metric.WithDescription("Engine cycle duration"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	// Observables
	m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized, metric.WithDescription("Current unrealized PnL per position"),
		metric.WithFloat64Callback(m.observeFloatMap(func() map[string]float64 { return m.unrealizedPnLMap }, "position")))
	if err != nil {
		return err
	}

	m.BestSpread, err = meter.Float64ObservableGauge(MetricBestSpread, metric.WithDescription("Best funding spread per venue pair"),
		metric.WithFloat64Callback(m.observeFloatMap(func() map[string]float64 { return m.bestSpreadMap }, "pair")))
	if err != nil {
		return err
	}

	m.QualityScore, err = meter.Float64ObservableGauge(MetricQualityScore, metric.WithDescription("Best risk-adjusted opportunity score per venue pair"),
		metric.WithFloat64Callback(m.observeFloatMap(func() map[string]float64 { return m.qualityScoreMap }, "pair")))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, val := range m.cbOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("breaker", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Number of active hedged positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.positionsOpen)
			return nil
		}))
	if err != nil {
		return err
	}

	m.Opportunities, err = meter.Int64ObservableGauge(MetricOpportunities, metric.WithDescription("Ranked opportunities in the latest cycle"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.opportunities)
			return nil
		}))
	if err != nil {
		return err
	}

	m.EngineState, err = meter.Int64ObservableGauge(MetricEngineState, metric.WithDescription("Engine state ordinal"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.engineState)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DailyPnLFraction, err = meter.Float64ObservableGauge(MetricDailyPnLFraction, metric.WithDescription("Daily PnL as a fraction of capital at risk"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.dailyPnLFraction)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) observeFloatMap(src func() map[string]float64, label string) metric.Float64Callback {
	return func(ctx context.Context, obs metric.Float64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for key, val := range src() {
			obs.Observe(val, metric.WithAttributes(attribute.String(label, key)))
		}
		return nil
	}
}

// Counters and histograms

func (m *MetricsHolder) RecordRealizedPnL(ctx context.Context, instrument string, pnl float64) {
	if m == nil || m.PnLRealizedTotal == nil {
		return
	}
	m.PnLRealizedTotal.Add(ctx, pnl, metric.WithAttributes(attribute.String("instrument", instrument)))
}

func (m *MetricsHolder) IncHedgeOpened(ctx context.Context, pair string) {
	if m == nil || m.HedgesOpenedTotal == nil {
		return
	}
	m.HedgesOpenedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("pair", pair)))
}

func (m *MetricsHolder) IncHedgeClosed(ctx context.Context, pair, reason string) {
	if m == nil || m.HedgesClosedTotal == nil {
		return
	}
	m.HedgesClosedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("pair", pair), attribute.String("reason", reason)))
}

func (m *MetricsHolder) IncPartialHedge(ctx context.Context, pair string) {
	if m == nil || m.PartialHedgesTotal == nil {
		return
	}
	m.PartialHedgesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("pair", pair)))
}

func (m *MetricsHolder) IncVenueFailure(ctx context.Context, venue string) {
	if m == nil || m.VenueFailuresTotal == nil {
		return
	}
	m.VenueFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
}

func (m *MetricsHolder) ObserveVenueLatency(ctx context.Context, venue string, ms float64) {
	if m == nil || m.LatencyVenue == nil {
		return
	}
	m.LatencyVenue.Record(ctx, ms, metric.WithAttributes(attribute.String("venue", venue)))
}

func (m *MetricsHolder) ObserveCycle(ctx context.Context, seconds float64) {
	if m == nil || m.CycleDuration == nil {
		return
	}
	m.CycleDuration.Record(ctx, seconds)
}

// Helpers to update observable state

func (m *MetricsHolder) SetUnrealizedPnL(positionID string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[positionID] = value
}

func (m *MetricsHolder) ClearUnrealizedPnL(positionID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.unrealizedPnLMap, positionID)
}

func (m *MetricsHolder) SetBestSpread(pair string, spread float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bestSpreadMap[pair] = spread
}

func (m *MetricsHolder) SetQualityScore(pair string, score float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qualityScoreMap[pair] = score
}

func (m *MetricsHolder) SetCircuitBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[name] = val
}

func (m *MetricsHolder) SetPositionsOpen(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionsOpen = int64(n)
}

func (m *MetricsHolder) SetOpportunities(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunities = int64(n)
}

func (m *MetricsHolder) SetEngineState(state int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engineState = int64(state)
}

func (m *MetricsHolder) SetDailyPnLFraction(f float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnLFraction = f
}

func (m *MetricsHolder) GetUnrealizedPnL() map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.unrealizedPnLMap))
	for k, v := range m.unrealizedPnLMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetBestSpreads() map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.bestSpreadMap))
	for k, v := range m.bestSpreadMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetCircuitBreakerOpen(name string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cbOpenMap[name] == 1
}
