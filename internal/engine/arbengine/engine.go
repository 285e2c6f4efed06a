// Package arbengine drives the funding arbitrage control loop: refresh rates,
// evaluate open hedges, admit new ones and enforce the safety limits.
package arbengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/infrastructure/health"
	"funding_arb/internal/model"
	"funding_arb/internal/risk"
	"funding_arb/internal/trading/execution"
	"funding_arb/internal/trading/oracle"
	"funding_arb/internal/trading/position"
	"funding_arb/pkg/concurrency"
	apperrors "funding_arb/pkg/errors"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Deps are optional collaborators. Nil values disable the feature.
type Deps struct {
	Alerter core.IAlerter
	Journal core.IPositionJournal
	Metrics *telemetry.MetricsHolder
	Clock   func() time.Time
}

type Engine struct {
	cfg    EngineConfig
	logger core.ILogger
	deps   Deps
	now    func() time.Time
	tracer trace.Tracer

	connectors map[string]core.IVenueConnector
	venuePool  *concurrency.WorkerPool

	events  *EventBus
	health  *health.HealthManager
	breaker *risk.CircuitBreaker
	daily   *risk.DailyTracker

	// cycleMu serialises ticks, Initialize and Stop
	cycleMu sync.Mutex

	mu                sync.RWMutex
	state             model.EngineState
	initialized       bool
	live              map[string]core.IVenueConnector
	oracle            *oracle.Oracle
	manager           *position.Manager
	startedAt         time.Time
	cycles            int64
	errors            int64
	opportunities     int
	lastCycleDuration time.Duration
	lastCycleAt       time.Time
	emergencyReason   string
}

func NewEngine(cfg EngineConfig, connectors map[string]core.IVenueConnector, logger core.ILogger, deps Deps) *Engine {
	cfg.applyDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	deps.Clock = clock

	log := logger.WithField("component", "arbitrage_engine")
	events := NewEventBus(cfg.EventBuffer)
	events.now = clock

	workers := max(len(connectors), 1)

	return &Engine{
		cfg:        cfg,
		logger:     log,
		deps:       deps,
		now:        clock,
		tracer:     telemetry.GetTracer("arbitrage-engine"),
		connectors: connectors,
		venuePool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "venues",
			MaxWorkers:  workers,
			MaxCapacity: workers * 2,
		}, log),
		events:     events,
		health:     health.NewHealthManager(logger),
		breaker: risk.NewCircuitBreaker(risk.CircuitConfig{
			Name:                 "engine",
			MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		}, deps.Metrics),
		daily: risk.NewDailyTracker(cfg.Location, clock()),
		state: model.EngineStopped,
	}
}

// Events streams engine notifications. Slow readers lose events, never block the engine.
func (e *Engine) Events() <-chan core.Event {
	return e.events.Events()
}

func (e *Engine) EventBus() *EventBus {
	return e.events
}

func (e *Engine) State() model.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Initialize connects every venue and builds the oracle and position manager
// over the ones that answered
func (e *Engine) Initialize(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.mu.RLock()
	done := e.initialized
	e.mu.RUnlock()
	if done {
		return nil
	}

	if err := e.transition(model.EngineStarting, "initialize"); err != nil {
		return err
	}

	live := e.connect(ctx)
	if len(live) < e.cfg.MinLiveVenues {
		err := fmt.Errorf("%d of %d venues connected: %w", len(live), len(e.connectors), apperrors.ErrInsufficientVenues)
		e.logger.Error("Engine initialization failed", "error", err)
		_ = e.transition(model.EngineError, err.Error())
		e.alert(ctx, "Engine failed to start", err.Error(), core.AlertError, nil)
		e.disconnect(ctx)
		return err
	}

	orc := oracle.New(oracle.Config{
		Instruments:       e.cfg.Instruments,
		Pairs:             e.cfg.Pairs,
		MinSpread:         e.cfg.MinSpread,
		VenueTimeout:      e.cfg.VenueTimeout,
		RequestsPerSecond: e.cfg.RequestsPerSecond,
		StaleAfter:        2*e.cfg.Interval + e.cfg.VenueTimeout,
		Clock:             e.now,
	}, live, e.logger, e.deps.Metrics, e.events)

	executor := execution.NewPairExecutor(execution.Config{OrderTimeout: e.cfg.OrderTimeout}, e.logger, e.deps.Metrics)
	manager := position.NewManager(e.cfg.Position, live, executor, e.logger, position.Deps{
		Journal: e.deps.Journal,
		Alerter: e.deps.Alerter,
		Events:  e.events,
		Daily:   e.daily,
		Breaker: e.breaker,
		Metrics: e.deps.Metrics,
		Clock:   e.now,
	})

	if err := e.recoverJournal(ctx, manager); err != nil {
		e.logger.Error("Journal recovery failed, previous positions may be unmonitored", "error", err)
		e.alert(ctx, "Journal recovery failed", err.Error(), core.AlertCritical, nil)
	}

	e.mu.Lock()
	e.live = live
	e.oracle = orc
	e.manager = manager
	e.initialized = true
	e.mu.Unlock()

	e.registerHealthChecks()

	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)
	e.logger.Info("Engine initialized", "live_venues", names, "configured", len(e.connectors))
	return nil
}

// recoverJournal puts the previous run's open hedges back under management
// and replays today's closed trades into the daily loss tracker
func (e *Engine) recoverJournal(ctx context.Context, manager *position.Manager) error {
	if e.deps.Journal == nil {
		return nil
	}
	jctx, cancel := context.WithTimeout(ctx, e.cfg.VenueTimeout)
	defer cancel()

	open, err := e.deps.Journal.ListOpen(jctx)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	if restored := manager.Restore(ctx, open); len(restored) > 0 {
		e.alert(ctx, "Open positions restored",
			fmt.Sprintf("%d hedges from the previous run are monitored again", len(restored)),
			core.AlertWarning, map[string]string{"count": fmt.Sprintf("%d", len(restored))})
	}

	closed, err := e.deps.Journal.ListClosedSince(jctx, e.daily.DayStart())
	if err != nil {
		return fmt.Errorf("list today's closed positions: %w", err)
	}
	for _, pos := range closed {
		e.daily.RecordClose(pos.NetPnL(), pos.Notional)
	}
	if len(closed) > 0 {
		e.logger.Info("Replayed today's closed positions", "count", len(closed), "daily_pnl", e.daily.PnL(decimal.Zero).StringFixed(2))
	}
	return nil
}

func (e *Engine) connect(ctx context.Context) map[string]core.IVenueConnector {
	var mu sync.Mutex
	live := make(map[string]core.IVenueConnector, len(e.connectors))

	tasks := make([]func(context.Context) error, 0, len(e.connectors))
	for name, conn := range e.connectors {
		name, conn := name, conn
		tasks = append(tasks, func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, e.cfg.VenueTimeout)
			defer cancel()
			if err := conn.Connect(cctx); err != nil {
				e.logger.Warn("Venue connect failed", "venue", name, "error", err)
				return nil
			}
			mu.Lock()
			live[name] = conn
			mu.Unlock()
			e.logger.Info("Venue connected", "venue", name)
			return nil
		})
	}
	_ = e.venuePool.RunAllContext(ctx, tasks)
	return live
}

func (e *Engine) disconnect(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.VenueTimeout)
	defer cancel()

	tasks := make([]func(context.Context) error, 0, len(e.connectors))
	for name, conn := range e.connectors {
		name, conn := name, conn
		tasks = append(tasks, func(ctx context.Context) error {
			if err := conn.Disconnect(ctx); err != nil {
				e.logger.Warn("Venue disconnect failed", "venue", name, "error", err)
			}
			return nil
		})
	}
	_ = e.venuePool.RunAllContext(dctx, tasks)
}

// pingVenues refreshes connection state so a dropped venue is noticed
func (e *Engine) pingVenues(ctx context.Context) int {
	tasks := make([]func(context.Context) error, 0, len(e.live))
	for name, conn := range e.live {
		name, conn := name, conn
		tasks = append(tasks, func(ctx context.Context) error {
			pctx, cancel := context.WithTimeout(ctx, e.cfg.VenueTimeout)
			defer cancel()
			if err := conn.Ping(pctx); err != nil {
				e.logger.Warn("Venue ping failed", "venue", name, "error", err)
			}
			return nil
		})
	}
	_ = e.venuePool.RunAllContext(ctx, tasks)
	return e.liveCount()
}

func (e *Engine) liveCount() int {
	n := 0
	for _, conn := range e.live {
		if conn.IsConnected() {
			n++
		}
	}
	return n
}

func (e *Engine) transition(to model.EngineState, reason string) error {
	e.mu.Lock()
	from := e.state
	if !from.CanTransition(to) {
		e.mu.Unlock()
		return fmt.Errorf("engine %s -> %s: %w", from, to, apperrors.ErrInvalidTransition)
	}
	e.state = to
	if to == model.EngineEmergencyStop {
		e.emergencyReason = reason
	}
	if to == model.EngineRunning {
		e.startedAt = e.now()
	}
	e.mu.Unlock()

	e.logger.Info("Engine state changed", "from", from, "to", to, "reason", reason)
	e.deps.Metrics.SetEngineState(int(to))
	e.events.Publish(core.Event{
		Type: core.EventStateChanged,
		Data: map[string]string{"from": from.String(), "to": to.String(), "reason": reason},
	})
	return nil
}

// Run initializes if needed and drives cycles until ctx is cancelled or a
// stop is triggered. Cancellation stops the engine gracefully.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Initialize(ctx); err != nil {
		return err
	}
	if err := e.transition(model.EngineRunning, "run"); err != nil {
		return err
	}
	e.logger.Info("Engine running",
		"interval", e.cfg.Interval,
		"instruments", e.cfg.Instruments,
		"pairs", len(e.cfg.Pairs))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.stop(ctx, false, "context cancelled")
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return e.stop(ctx, false, "context cancelled")
		}

		start := time.Now()
		stopped, err := e.tick(ctx)
		if stopped {
			return err
		}
		timer.Reset(max(e.cfg.Interval-time.Since(start), 0))
	}
}

// tick runs one cycle and applies its outcome. It reports whether the
// engine has stopped.
func (e *Engine) tick(ctx context.Context) (bool, error) {
	e.cycleMu.Lock()
	if e.State() != model.EngineRunning {
		e.cycleMu.Unlock()
		return true, nil
	}

	e.mu.Lock()
	e.cycles++
	cycle := e.cycles
	e.mu.Unlock()

	start := time.Now()
	reason, err := e.cycle(ctx, cycle)
	elapsed := time.Since(start)
	e.deps.Metrics.ObserveCycle(ctx, elapsed.Seconds())

	e.mu.Lock()
	e.lastCycleDuration = elapsed
	e.lastCycleAt = e.now()
	if err != nil {
		e.errors++
	}
	e.mu.Unlock()

	tripped := false
	if ctx.Err() == nil {
		tripped = e.breaker.RecordCycle(err)
	}
	if err != nil {
		e.logger.Error("Cycle failed",
			"cycle", cycle,
			"consecutive", e.breaker.ConsecutiveErrors(),
			"error", err)
	}
	e.cycleMu.Unlock()

	if tripped && reason == "" {
		reason = fmt.Sprintf("%d consecutive cycle errors", e.cfg.MaxConsecutiveErrors)
	}
	if reason == "" {
		return false, nil
	}
	if stopErr := e.stop(ctx, true, reason); stopErr != nil {
		return true, errors.Join(fmt.Errorf("%s: %w", reason, apperrors.ErrEmergencyStop), stopErr)
	}
	return true, fmt.Errorf("%s: %w", reason, apperrors.ErrEmergencyStop)
}

// cycle is one pass of the control loop. A non-empty reason requests an
// emergency stop.
func (e *Engine) cycle(ctx context.Context, n int64) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.cycle", trace.WithAttributes(attribute.Int64("cycle", n)))
	defer span.End()

	if live := e.pingVenues(ctx); live < e.cfg.MinLiveVenues {
		return fmt.Sprintf("only %d live venues", live),
			fmt.Errorf("%d live venues: %w", live, apperrors.ErrInsufficientVenues)
	}
	if n > 1 {
		if err := e.oracle.IsHealthy(e.now()); err != nil {
			e.logger.Warn("Rate oracle unhealthy before refresh", "error", err)
		}
	}
	if err := e.manager.HealthCheck(); err != nil {
		return "", fmt.Errorf("position manager: %w", err)
	}

	var errs []error
	opps, venueErrs := e.oracle.Cycle(ctx)
	if snap := e.oracle.Latest(); snap == nil || snap.VenueCount() < 2 {
		errs = append(errs, fmt.Errorf("rates from fewer than two venues: %w", apperrors.ErrStaleData))
		for _, ve := range venueErrs {
			errs = append(errs, ve)
		}
	}

	if decisions := e.manager.EvaluateAll(ctx); len(decisions) > 0 {
		if err := e.manager.CloseDecided(ctx, decisions); err != nil {
			e.logger.Error("Failed to close positions", "error", err)
		}
	}

	e.mu.Lock()
	e.opportunities = len(opps)
	e.mu.Unlock()
	e.act(ctx, opps)

	if e.daily.Roll(e.now()) {
		e.logger.Info("Daily counters reset", "day", e.daily.DayStart())
	}

	reason := e.checkSafety()

	if n%int64(e.cfg.StatusLogEvery) == 0 {
		e.logStatus()
	}
	return reason, errors.Join(errs...)
}

// act opens the best admissible opportunities, or swaps out a weak position
// when the book is full
func (e *Engine) act(ctx context.Context, opps []*model.Opportunity) {
	taken := 0
	for _, opp := range opps {
		if taken >= e.cfg.TopOpportunities || ctx.Err() != nil {
			return
		}
		if opp.Score < e.cfg.MinScore || opp.Spread.LessThan(e.cfg.MinSpread) {
			continue
		}
		taken++

		if e.manager.HasCapacity() {
			pos, err := e.manager.TryOpen(ctx, opp)
			if err != nil {
				e.logOpenError(opp, err)
				continue
			}
			e.logger.Info("Hedge opened",
				"id", pos.ID,
				"key", opp.Key(),
				"spread", opp.Spread,
				"score", opp.Score)
			continue
		}

		replaced, err := e.manager.ConsiderReplacement(ctx, opp)
		if err != nil {
			e.logOpenError(opp, err)
			continue
		}
		if replaced {
			e.logger.Info("Position replaced", "key", opp.Key(), "score", opp.Score)
		}
	}
}

func (e *Engine) logOpenError(opp *model.Opportunity, err error) {
	switch {
	case errors.Is(err, apperrors.ErrPartialHedge):
		e.logger.Error("Partial hedge", "key", opp.Key(), "error", err)
	case errors.Is(err, apperrors.ErrDuplicatePosition),
		errors.Is(err, apperrors.ErrVenueConflict),
		errors.Is(err, apperrors.ErrCapacityReached),
		errors.Is(err, apperrors.ErrOpportunityInvalid):
		e.logger.Debug("Opportunity skipped", "key", opp.Key(), "error", err)
	default:
		e.logger.Warn("Failed to open hedge", "key", opp.Key(), "error", err)
	}
}

// checkSafety returns a non-empty reason when the engine must stop
func (e *Engine) checkSafety() string {
	if e.breaker.IsTripped() {
		return "circuit breaker open: " + e.breaker.Status().Reason
	}
	if live := e.liveCount(); live < e.cfg.MinLiveVenues {
		return fmt.Sprintf("only %d live venues", live)
	}

	frac := e.daily.Fraction(e.manager.Unrealized(), e.manager.ActiveNotional())
	f, _ := frac.Float64()
	e.deps.Metrics.SetDailyPnLFraction(f)

	if frac.LessThanOrEqual(e.cfg.EmergencyStopLoss) {
		return fmt.Sprintf("daily P&L %s breached emergency stop %s", frac.StringFixed(4), e.cfg.EmergencyStopLoss)
	}
	if frac.LessThanOrEqual(e.cfg.MaxDailyLoss) {
		return fmt.Sprintf("daily P&L %s reached max daily loss %s", frac.StringFixed(4), e.cfg.MaxDailyLoss)
	}
	return ""
}

// Stop closes every position and disconnects. An emergency stop from
// Running passes through EmergencyStop and raises a critical alert.
func (e *Engine) Stop(ctx context.Context, emergency bool) error {
	reason := "stop requested"
	if emergency {
		reason = "emergency stop requested"
	}
	return e.stop(ctx, emergency, reason)
}

func (e *Engine) stop(ctx context.Context, emergency bool, reason string) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	switch state := e.State(); state {
	case model.EngineStopped, model.EngineStopping, model.EngineEmergencyStop:
		return nil
	case model.EngineError:
		return e.transition(model.EngineStopped, reason)
	case model.EngineRunning:
		if emergency {
			if err := e.transition(model.EngineEmergencyStop, reason); err != nil {
				return err
			}
			e.events.Publish(core.Event{Type: core.EventEmergencyStop, Data: map[string]string{"reason": reason}})
			e.alert(ctx, "Emergency stop", reason, core.AlertCritical, nil)
			break
		}
		fallthrough
	default:
		if err := e.transition(model.EngineStopping, reason); err != nil {
			return err
		}
	}

	var closeErr error
	if e.manager != nil {
		e.manager.SetEmergency(true)

		closeReason := position.ReasonShutdown
		if emergency {
			closeReason = position.ReasonEmergency
		}
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*e.cfg.OrderTimeout)
		closeErr = e.manager.CloseAll(closeCtx, closeReason)
		cancel()

		if closeErr != nil {
			left := e.manager.Count()
			e.logger.Error("Positions left open, manual intervention required", "open", left, "error", closeErr)
			e.alert(ctx, "Positions left open on stop", closeErr.Error(), core.AlertError,
				map[string]string{"open_positions": fmt.Sprintf("%d", left)})
		}
	}

	e.disconnect(ctx)
	e.venuePool.Stop()
	if e.oracle != nil {
		e.oracle.Close()
	}
	if err := e.transition(model.EngineStopped, reason); err != nil {
		return errors.Join(closeErr, err)
	}
	return closeErr
}

func (e *Engine) alert(ctx context.Context, title, message string, level core.AlertLevel, fields map[string]string) {
	if e.deps.Alerter == nil {
		return
	}
	e.deps.Alerter.Alert(context.WithoutCancel(ctx), title, message, level, fields)
}
