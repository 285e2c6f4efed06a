// Package position admits, tracks, evaluates and closes hedged positions
package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"
	"funding_arb/internal/trading/execution"
	apperrors "funding_arb/pkg/errors"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Close reasons
const (
	ReasonMaxAge         = "max_age"
	ReasonNegativeSpread = "negative_spread"
	ReasonStopLoss       = "stop_loss"
	ReasonEmergency      = "emergency"
	ReasonLowProfit      = "low_profit"
	ReasonDataError      = "data_error"
	ReasonReplacement    = "replacement"
	ReasonShutdown       = "shutdown"
)

// lowProfitMinAge is how long a hedge gets before the low-profit rule applies
const lowProfitMinAge = 24 * time.Hour

// Config for the Manager
type Config struct {
	Notional             decimal.Decimal
	Leverage             decimal.Decimal
	MaxPositions         int
	MinSpread            decimal.Decimal
	MinScore             float64
	StopLoss             decimal.Decimal
	MinProfit            decimal.Decimal
	MaxPositionAge       time.Duration
	ReplacementThreshold float64
	EvalConcurrency      int
	VenueTimeout         time.Duration
	HistorySize          int
}

// TradeRecorder observes opens and closes, e.g. the daily P&L tracker
type TradeRecorder interface {
	RecordOpen()
	RecordClose(pnl, notional decimal.Decimal)
}

// Deps are the optional collaborators of the Manager
type Deps struct {
	Journal core.IPositionJournal
	Alerter core.IAlerter
	Events  core.IEventSink
	Daily   TradeRecorder
	Breaker core.ICircuitBreaker
	Metrics *telemetry.MetricsHolder
	Clock   func() time.Time
}

// CloseDecision is the outcome of evaluating one position
type CloseDecision struct {
	PositionID string
	Reason     string
}

// Manager owns the active set. The mutex guards the maps and the positions
// in them; venue calls are always made with the mutex released.
type Manager struct {
	cfg      Config
	logger   core.ILogger
	deps     Deps
	venues   map[string]core.IVenueConnector
	executor *execution.PairExecutor

	mu       sync.RWMutex
	active   map[string]*model.Position
	byKey    map[string]string
	reserved map[string]*model.Opportunity
	history  []*model.Position

	totalOpened   int
	totalClosed   int
	wins          int
	totalRealized decimal.Decimal
	totalFees     decimal.Decimal

	closeLocks sync.Map
	emergency  atomic.Bool

	now func() time.Time
}

func NewManager(cfg Config, venues map[string]core.IVenueConnector, executor *execution.PairExecutor, logger core.ILogger, deps Deps) *Manager {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 3
	}
	if cfg.EvalConcurrency <= 0 {
		cfg.EvalConcurrency = 4
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.Leverage.IsZero() {
		cfg.Leverage = decimal.NewFromInt(1)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.WithField("component", "position_manager"),
		deps:     deps,
		venues:   venues,
		executor: executor,
		active:   make(map[string]*model.Position),
		byKey:    make(map[string]string),
		reserved: make(map[string]*model.Opportunity),
		now:      clock,
	}
}

// TryOpen admits and opens a hedge for opp
func (m *Manager) TryOpen(ctx context.Context, opp *model.Opportunity) (*model.Position, error) {
	if m.emergency.Load() {
		return nil, apperrors.ErrEmergencyStop
	}
	key := opp.Key()
	if err := m.reserve(opp, ""); err != nil {
		return nil, err
	}
	defer m.release(key)

	plan, err := m.prepare(ctx, opp)
	if err != nil {
		return nil, err
	}
	return m.open(ctx, opp, plan)
}

// openPlan is a sized, pre-validated order pair
type openPlan struct {
	long  core.IVenueConnector
	short core.IVenueConnector
	size  decimal.Decimal
}

// prepare runs every admission check that needs no venue order: the
// execution gate, connectivity, sizing and margin
func (m *Manager) prepare(ctx context.Context, opp *model.Opportunity) (openPlan, error) {
	if err := opp.ShouldExecute(m.now(), m.cfg.MinSpread, m.cfg.MinScore); err != nil {
		return openPlan{}, err
	}

	longConn, shortConn := m.venues[opp.LongLeg.Venue], m.venues[opp.ShortLeg.Venue]
	for venue, conn := range map[string]core.IVenueConnector{opp.LongLeg.Venue: longConn, opp.ShortLeg.Venue: shortConn} {
		if conn == nil || !conn.IsConnected() {
			return openPlan{}, fmt.Errorf("%s: %w", venue, apperrors.ErrNotConnected)
		}
	}

	mid, err := m.entryPrice(ctx, opp, longConn, shortConn)
	if err != nil {
		return openPlan{}, err
	}
	size := m.cfg.Notional.DivRound(mid, 8)

	if err := longConn.ValidateTradingRequirements(ctx, opp.Instrument, model.SideLong, size); err != nil {
		return openPlan{}, err
	}
	if err := shortConn.ValidateTradingRequirements(ctx, opp.Instrument, model.SideShort, size); err != nil {
		return openPlan{}, err
	}
	return openPlan{long: longConn, short: shortConn, size: size}, nil
}

// open places both legs of a reserved opportunity and records the position
func (m *Manager) open(ctx context.Context, opp *model.Opportunity, plan openPlan) (*model.Position, error) {
	fill, err := m.executor.Open(ctx,
		execution.LegOrder{Connector: plan.long, Instrument: opp.Instrument, Side: model.SideLong, Size: plan.size},
		execution.LegOrder{Connector: plan.short, Instrument: opp.Instrument, Side: model.SideShort, Size: plan.size})
	if err != nil {
		var phe *execution.PartialHedgeError
		if errors.As(err, &phe) {
			m.onPartialHedge(ctx, opp, phe)
		}
		return nil, err
	}

	pos, err := model.NewPosition(opp.Instrument, opp.PairID,
		legFromFill(fill.Long, opp.LongLeg),
		legFromFill(fill.Short, opp.ShortLeg),
		m.cfg.Notional, m.cfg.Leverage, m.now())
	if err != nil {
		return nil, err
	}
	pos.EntryScore = opp.Score
	if err := pos.Transition(model.PositionActive); err != nil {
		return nil, err
	}

	key := opp.Key()
	m.mu.Lock()
	delete(m.reserved, key)
	m.active[pos.ID] = pos
	m.byKey[key] = pos.ID
	m.totalOpened++
	openCount := len(m.active)
	snapshot := pos.Clone()
	m.mu.Unlock()

	m.logger.Info("Position opened",
		"id", pos.ID,
		"pair", pos.PairID,
		"instrument", pos.Instrument,
		"long", pos.LongVenue,
		"short", pos.ShortVenue,
		"size", plan.size.String(),
		"spread", opp.Spread.String())

	if m.deps.Daily != nil {
		m.deps.Daily.RecordOpen()
	}
	m.deps.Metrics.IncHedgeOpened(ctx, pos.PairID)
	m.deps.Metrics.SetPositionsOpen(openCount)
	m.persist(ctx, snapshot)
	m.publish(core.EventPositionOpened, snapshot.Summary(m.now()))
	return snapshot, nil
}

// reserve claims a slot for opp. replacing names an active position that
// will be closed to make room, so capacity is not checked and that
// position's legs do not conflict.
func (m *Manager) reserve(opp *model.Opportunity, replacing string) error {
	key := opp.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if replacing == "" && len(m.active)+len(m.reserved) >= m.cfg.MaxPositions {
		return fmt.Errorf("%w: %d/%d", apperrors.ErrCapacityReached, len(m.active)+len(m.reserved), m.cfg.MaxPositions)
	}
	if _, ok := m.byKey[key]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicatePosition, key)
	}
	if _, ok := m.reserved[key]; ok {
		return fmt.Errorf("%w: %s is opening", apperrors.ErrDuplicatePosition, key)
	}
	if err := m.netConflictLocked(opp, replacing); err != nil {
		return err
	}
	m.reserved[key] = opp
	return nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, key)
}

// Restore re-admits journaled positions from a previous run so they are
// evaluated and closed like any other. A position caught mid-close or with a
// failed leg comes back Active and flagged for intervention. Capacity is not
// enforced. It returns the restored ids in input order.
func (m *Manager) Restore(ctx context.Context, positions []*model.Position) []string {
	var restored []string
	var flagged []string

	m.mu.Lock()
	for _, p := range positions {
		if p == nil || !p.Status.IsOpen() || p.Status == model.PositionOpening {
			continue
		}
		key := p.Key()
		if _, ok := m.active[p.ID]; ok {
			continue
		}
		if _, ok := m.byKey[key]; ok {
			m.logger.Warn("Journaled position duplicates an open one, skipped", "id", p.ID, "key", key)
			continue
		}

		pos := p.Clone()
		if pos.Status == model.PositionFailed {
			_ = pos.Transition(model.PositionClosing)
		}
		if pos.Status == model.PositionClosing {
			_ = pos.Transition(model.PositionActive)
			pos.NeedsIntervention = true
		}
		if pos.NeedsIntervention {
			flagged = append(flagged, pos.ID)
		}
		m.active[pos.ID] = pos
		m.byKey[key] = pos.ID
		restored = append(restored, pos.ID)
	}
	openCount := len(m.active)
	m.mu.Unlock()

	if len(restored) == 0 {
		return nil
	}
	m.deps.Metrics.SetPositionsOpen(openCount)
	m.logger.Warn("Restored open positions from journal",
		"count", len(restored),
		"needs_intervention", len(flagged),
		"ids", restored)
	for _, id := range flagged {
		m.alert(ctx, "Restored position needs intervention",
			"a hedge was mid-close or had a failed leg when the previous run stopped",
			core.AlertCritical, map[string]string{"id": id})
	}
	return restored
}

type heldLeg struct {
	venue string
	side  model.Side
}

// netConflictLocked rejects opp when another hedge holds the opposite side on
// one of its venues for the same instrument. Venues net a single position
// per instrument, so the two hedges would cancel each other out.
func (m *Manager) netConflictLocked(opp *model.Opportunity, skip string) error {
	wanted := []heldLeg{{opp.LongLeg.Venue, model.SideLong}, {opp.ShortLeg.Venue, model.SideShort}}
	check := func(owner string, held ...heldLeg) error {
		for _, h := range held {
			for _, w := range wanted {
				if h.venue == w.venue && h.side != w.side {
					return fmt.Errorf("%w: %s holds %s %s for %s", apperrors.ErrVenueConflict, h.venue, h.side, opp.Instrument, owner)
				}
			}
		}
		return nil
	}

	for id, pos := range m.active {
		if id == skip || pos.Instrument != opp.Instrument {
			continue
		}
		if err := check(id, heldLeg{pos.LongVenue, model.SideLong}, heldLeg{pos.ShortVenue, model.SideShort}); err != nil {
			return err
		}
	}
	for key, r := range m.reserved {
		if r.Instrument != opp.Instrument {
			continue
		}
		if err := check(key, heldLeg{r.LongLeg.Venue, model.SideLong}, heldLeg{r.ShortLeg.Venue, model.SideShort}); err != nil {
			return err
		}
	}
	return nil
}

// entryPrice prefers the cached leg prices and falls back to live quotes
func (m *Manager) entryPrice(ctx context.Context, opp *model.Opportunity, conns ...core.IVenueConnector) (decimal.Decimal, error) {
	if mid, ok := opp.MidPrice(); ok {
		return mid, nil
	}
	var lastErr error
	for _, conn := range conns {
		vctx, cancel := context.WithTimeout(ctx, m.cfg.VenueTimeout)
		md, err := conn.GetMarketData(vctx, opp.Instrument)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if mid := md.Mid(); mid.IsPositive() {
			return mid, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no price available")
	}
	return decimal.Zero, fmt.Errorf("%w: %s price: %w", apperrors.ErrOpenFailed, opp.Instrument, lastErr)
}

func legFromFill(fill *core.OrderResult, leg model.VenueLeg) model.PositionLeg {
	return model.PositionLeg{
		Venue:       fill.Venue,
		Side:        fill.Side,
		Size:        fill.Size,
		EntryPrice:  fill.AvgFillPrice,
		OrderID:     fill.OrderID,
		EntryFee:    fill.FeesPaid,
		FundingRate: leg.Rate,
		PeriodHours: leg.PeriodHours,
	}
}

func (m *Manager) onPartialHedge(ctx context.Context, opp *model.Opportunity, phe *execution.PartialHedgeError) {
	m.deps.Metrics.IncPartialHedge(ctx, opp.PairID)
	unwound := "yes"
	if !phe.Unwound() {
		unwound = "no"
	}
	m.logger.Error("Partial hedge", "pair", opp.PairID, "instrument", opp.Instrument,
		"filled", phe.FilledVenue, "failed", phe.FailedVenue, "unwound", unwound, "error", phe)
	m.alert(ctx, "Partial hedge", phe.Error(), core.AlertCritical, map[string]string{
		"pair":       opp.PairID,
		"instrument": opp.Instrument,
		"filled":     phe.FilledVenue,
		"failed":     phe.FailedVenue,
		"unwound":    unwound,
	})
	m.publish(core.EventPartialHedge, map[string]string{
		"pair":       opp.PairID,
		"instrument": opp.Instrument,
		"filled":     phe.FilledVenue,
		"failed":     phe.FailedVenue,
		"unwound":    unwound,
	})
}

// EvaluateAll marks every active position to market and returns the ones
// that should close, sorted by position id.
func (m *Manager) EvaluateAll(ctx context.Context) []CloseDecision {
	ids := m.activeIDs()

	var mu sync.Mutex
	var decisions []CloseDecision

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.EvalConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if reason := m.evaluate(ctx, id); reason != "" {
				mu.Lock()
				decisions = append(decisions, CloseDecision{PositionID: id, Reason: reason})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(decisions, func(i, j int) bool { return decisions[i].PositionID < decisions[j].PositionID })
	return decisions
}

type legQuote struct {
	price decimal.Decimal
	rate  decimal.Decimal
}

func (m *Manager) quote(ctx context.Context, venue, instrument string) (legQuote, error) {
	conn := m.venues[venue]
	if conn == nil {
		return legQuote{}, fmt.Errorf("%s: %w", venue, apperrors.ErrNotConnected)
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.VenueTimeout)
	defer cancel()

	md, err := conn.GetMarketData(ctx, instrument)
	if err != nil {
		return legQuote{}, err
	}
	rec, err := conn.GetFundingRate(ctx, instrument)
	if err != nil {
		return legQuote{}, err
	}
	return legQuote{price: md.Reference(), rate: rec.Rate}, nil
}

func (m *Manager) evaluate(ctx context.Context, id string) string {
	m.mu.RLock()
	pos, ok := m.active[id]
	if !ok || pos.Status != model.PositionActive {
		m.mu.RUnlock()
		return ""
	}
	instrument, longVenue, shortVenue := pos.Instrument, pos.LongVenue, pos.ShortVenue
	m.mu.RUnlock()

	long, err := m.quote(ctx, longVenue, instrument)
	if err == nil {
		var short legQuote
		short, err = m.quote(ctx, shortVenue, instrument)
		if err == nil {
			return m.mark(id, long, short)
		}
	}
	m.logger.Warn("Position data unavailable, closing", "id", id, "instrument", instrument, "error", err)
	return ReasonDataError
}

func (m *Manager) mark(id string, long, short legQuote) string {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.active[id]
	if !ok || pos.Status != model.PositionActive {
		return ""
	}
	pos.MarkToMarket(long.price, short.price, long.rate, short.rate, now)
	m.deps.Metrics.SetUnrealizedPnL(id, pos.UnrealizedPnL.InexactFloat64())
	return m.closeReason(pos, now)
}

// closeReason returns the first close rule pos violates, or ""
func (m *Manager) closeReason(pos *model.Position, now time.Time) string {
	age := pos.Age(now)
	roi := pos.ROI()
	switch {
	case m.cfg.MaxPositionAge > 0 && age > m.cfg.MaxPositionAge:
		return ReasonMaxAge
	case pos.Funding.CurrentSpread.IsNegative():
		return ReasonNegativeSpread
	case roi.LessThanOrEqual(m.cfg.StopLoss):
		return ReasonStopLoss
	case m.emergency.Load():
		return ReasonEmergency
	case age > lowProfitMinAge && roi.LessThan(m.cfg.MinProfit) && pos.DailySpreadRate().LessThan(m.cfg.MinProfit):
		return ReasonLowProfit
	}
	return ""
}

// Close flattens both legs of a position. Only one Close per id runs at a
// time. On a leg failure the position stays active and is flagged for
// intervention.
func (m *Manager) Close(ctx context.Context, id, reason string) (*model.Position, error) {
	lock := m.closeLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	pos, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, id)
	}
	if err := pos.Transition(model.PositionClosing); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	long := execution.LegOrder{Connector: m.venues[pos.LongVenue], Instrument: pos.Instrument, Side: model.SideLong, Size: pos.Long.Size}
	short := execution.LegOrder{Connector: m.venues[pos.ShortVenue], Instrument: pos.Instrument, Side: model.SideShort, Size: pos.Short.Size}
	m.mu.Unlock()

	m.logger.Info("Closing position", "id", id, "reason", reason)
	res, closeErr := m.executor.Close(ctx, long, short)
	now := m.now()

	m.mu.Lock()
	applyExit(&pos.Long, res.Long)
	applyExit(&pos.Short, res.Short)

	if closeErr != nil {
		_ = pos.Transition(model.PositionActive)
		pos.NeedsIntervention = true
		pos.LastUpdated = now
		snapshot := pos.Clone()
		m.mu.Unlock()

		m.logger.Error("Position close failed, manual intervention required", "id", id, "reason", reason, "error", closeErr)
		m.alert(ctx, "Position close failed", closeErr.Error(), core.AlertError, map[string]string{
			"id":         id,
			"pair":       snapshot.PairID,
			"instrument": snapshot.Instrument,
			"reason":     reason,
		})
		m.persist(ctx, snapshot)
		return snapshot, closeErr
	}

	if err := pos.Finalize(reason, now); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	delete(m.active, id)
	delete(m.byKey, pos.Key())
	m.history = append(m.history, pos)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = m.history[over:]
	}
	net := pos.NetPnL()
	m.totalClosed++
	m.totalRealized = m.totalRealized.Add(net)
	m.totalFees = m.totalFees.Add(pos.TotalFees)
	if net.IsPositive() {
		m.wins++
	}
	openCount := len(m.active)
	snapshot := pos.Clone()
	m.mu.Unlock()
	m.closeLocks.Delete(id)

	m.logger.Info("Position closed",
		"id", id,
		"reason", reason,
		"net_pnl", net.StringFixed(4),
		"funding", snapshot.Funding.Total().StringFixed(4),
		"fees", snapshot.TotalFees.StringFixed(4),
		"age", snapshot.Age(now).String())

	if m.deps.Daily != nil {
		m.deps.Daily.RecordClose(net, snapshot.Notional)
	}
	if m.deps.Breaker != nil {
		m.deps.Breaker.RecordTrade(net)
	}
	m.deps.Metrics.RecordRealizedPnL(ctx, snapshot.Instrument, net.InexactFloat64())
	m.deps.Metrics.IncHedgeClosed(ctx, snapshot.PairID, reason)
	m.deps.Metrics.ClearUnrealizedPnL(id)
	m.deps.Metrics.SetPositionsOpen(openCount)
	m.persist(ctx, snapshot)
	m.publish(core.EventPositionClosed, snapshot.Summary(now))
	return snapshot, nil
}

func applyExit(leg *model.PositionLeg, r execution.LegResult) {
	if leg.Closed || !r.OK() {
		return
	}
	if r.Result != nil {
		leg.ExitPrice = r.Result.AvgFillPrice
		leg.ExitFee = r.Result.FeesPaid
		leg.CloseOrderID = r.Result.OrderID
	} else {
		leg.ExitPrice = leg.CurrentPrice
	}
	leg.Closed = true
}

func (m *Manager) closeLock(id string) *sync.Mutex {
	l, _ := m.closeLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// CloseDecided closes every decided position concurrently
func (m *Manager) CloseDecided(ctx context.Context, decisions []CloseDecision) error {
	return m.closeMany(ctx, decisions)
}

// CloseAll closes every active position concurrently
func (m *Manager) CloseAll(ctx context.Context, reason string) error {
	ids := m.activeIDs()
	decisions := make([]CloseDecision, len(ids))
	for i, id := range ids {
		decisions[i] = CloseDecision{PositionID: id, Reason: reason}
	}
	return m.closeMany(ctx, decisions)
}

func (m *Manager) closeMany(ctx context.Context, decisions []CloseDecision) error {
	var mu sync.Mutex
	var errs []error

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.EvalConcurrency)
	for _, d := range decisions {
		d := d
		g.Go(func() error {
			if _, err := m.Close(ctx, d.PositionID, d.Reason); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", d.PositionID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// ConsiderReplacement swaps the weakest position for opp when at capacity
// and opp is sufficiently better. opp is reserved and fully pre-checked
// before the incumbent is closed, so a candidate that cannot open never
// costs a working hedge.
func (m *Manager) ConsiderReplacement(ctx context.Context, opp *model.Opportunity) (bool, error) {
	if m.emergency.Load() {
		return false, apperrors.ErrEmergencyStop
	}
	now := m.now()

	m.mu.RLock()
	atCapacity := len(m.active)+len(m.reserved) >= m.cfg.MaxPositions
	_, duplicate := m.byKey[opp.Key()]
	var worst *model.Position
	worstHealth := 0.0
	for _, pos := range m.active {
		if pos.Status != model.PositionActive {
			continue
		}
		h := HealthScore(pos, now)
		if worst == nil || h < worstHealth {
			worst, worstHealth = pos, h
		}
	}
	var worstID string
	if worst != nil {
		worstID = worst.ID
	}
	m.mu.RUnlock()

	if !atCapacity || duplicate || worstID == "" {
		return false, nil
	}

	ratio := ReplacementRatio(opp.RiskAdjustedScore(), worstHealth)
	if ratio <= m.cfg.ReplacementThreshold {
		return false, nil
	}

	key := opp.Key()
	if err := m.reserve(opp, worstID); err != nil {
		return false, err
	}
	defer m.release(key)

	plan, err := m.prepare(ctx, opp)
	if err != nil {
		m.logger.Info("Replacement candidate not admissible, keeping position",
			"old", worstID,
			"new", key,
			"error", err)
		return false, fmt.Errorf("replacement candidate: %w", err)
	}

	m.logger.Info("Replacing position",
		"old", worstID,
		"old_health", worstHealth,
		"new", key,
		"ratio", ratio)

	if _, err := m.Close(ctx, worstID, ReasonReplacement); err != nil {
		return false, fmt.Errorf("replacement close: %w", err)
	}
	if _, err := m.open(ctx, opp, plan); err != nil {
		return false, fmt.Errorf("replacement open: %w", err)
	}
	return true, nil
}

func (m *Manager) activeIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetEmergency makes every subsequent evaluation close
func (m *Manager) SetEmergency(on bool) {
	m.emergency.Store(on)
}

func (m *Manager) persist(ctx context.Context, pos *model.Position) {
	if m.deps.Journal == nil {
		return
	}
	if err := m.deps.Journal.Record(context.WithoutCancel(ctx), pos); err != nil {
		m.logger.Error("Failed to journal position", "id", pos.ID, "error", err)
	}
}

func (m *Manager) publish(t core.EventType, data interface{}) {
	if m.deps.Events == nil {
		return
	}
	m.deps.Events.Publish(core.Event{Type: t, Time: m.now(), Data: data})
}

func (m *Manager) alert(ctx context.Context, title, message string, level core.AlertLevel, fields map[string]string) {
	if m.deps.Alerter == nil {
		return
	}
	m.deps.Alerter.Alert(ctx, title, message, level, fields)
}
