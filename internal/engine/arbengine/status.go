package arbengine

import (
	"fmt"

	"funding_arb/internal/core"
	"funding_arb/internal/model"
	"funding_arb/internal/risk"
	"funding_arb/internal/trading/oracle"
	"funding_arb/internal/trading/position"
)

// Status is derived on every call from the live components
func (e *Engine) Status() model.EngineStatus {
	e.mu.RLock()
	s := model.EngineStatus{
		State:             e.state,
		StartedAt:         e.startedAt,
		Cycles:            e.cycles,
		Errors:            e.errors,
		Opportunities:     e.opportunities,
		LastCycleDuration: e.lastCycleDuration,
		LastCycleAt:       e.lastCycleAt,
		EmergencyReason:   e.emergencyReason,
	}
	manager := e.manager
	e.mu.RUnlock()

	if !s.StartedAt.IsZero() {
		s.Uptime = e.now().Sub(s.StartedAt)
	}
	s.ConsecutiveErrors = e.breaker.ConsecutiveErrors()

	s.Venues = make(map[string]model.VenueStatus, len(e.connectors))
	for name, conn := range e.connectors {
		s.Venues[name] = model.VenueStatus{
			Connected:        conn.IsConnected(),
			LastPing:         conn.LastPing(),
			ConnectionErrors: conn.ConnectionErrors(),
		}
	}

	day := e.daily.Snapshot()
	s.OpenedToday = day.Opened
	s.ClosedToday = day.Closed

	if manager != nil {
		unrealized := manager.Unrealized()
		s.DailyPnL = e.daily.PnL(unrealized)
		s.DailyPnLFraction = e.daily.Fraction(unrealized, manager.ActiveNotional())
		s.Positions = manager.Summaries()
		s.ActivePositions = len(s.Positions)
	}
	return s
}

// HealthCheck runs the registered component checks. The engine is healthy
// while starting or running with every check passing.
func (e *Engine) HealthCheck() (bool, model.EngineStatus, map[string]string) {
	ok, checks := e.health.Check()
	status := e.Status()
	running := status.State == model.EngineRunning || status.State == model.EngineStarting
	return ok && running, status, checks
}

func (e *Engine) registerHealthChecks() {
	e.health.Register("engine", func() error {
		switch st := e.State(); st {
		case model.EngineError, model.EngineEmergencyStop:
			return fmt.Errorf("engine is %s", st)
		}
		return nil
	})
	e.health.Register("venues", func() error {
		if n := e.liveCount(); n < e.cfg.MinLiveVenues {
			return fmt.Errorf("%d of %d required venues live", n, e.cfg.MinLiveVenues)
		}
		return nil
	})
	e.health.Register("rate_oracle", func() error {
		e.mu.RLock()
		cycles := e.cycles
		e.mu.RUnlock()
		if cycles == 0 {
			return nil
		}
		return e.oracle.IsHealthy(e.now())
	})
	e.health.Register("position_manager", func() error {
		return e.manager.HealthCheck()
	})
	e.health.Register("circuit_breaker", func() error {
		if e.breaker.IsTripped() {
			return fmt.Errorf("open: %s", e.breaker.Status().Reason)
		}
		return nil
	})
}

func (e *Engine) logStatus() {
	s := e.Status()
	e.logger.Info("Engine status",
		"state", s.State,
		"cycles", s.Cycles,
		"errors", s.Errors,
		"live_venues", s.LiveVenues(),
		"active_positions", s.ActivePositions,
		"opportunities", s.Opportunities,
		"daily_pnl", s.DailyPnL.StringFixed(2),
		"daily_fraction", s.DailyPnLFraction.StringFixed(4),
		"opened_today", s.OpenedToday,
		"closed_today", s.ClosedToday,
		"venue_pool", e.venuePool.Stats())
	e.events.Publish(core.Event{Type: core.EventStatus, Data: s})
}

// Oracle is nil until Initialize succeeds
func (e *Engine) Oracle() *oracle.Oracle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oracle
}

// Manager is nil until Initialize succeeds
func (e *Engine) Manager() *position.Manager {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.manager
}

// Breaker exposes the cycle and trade circuit breaker
func (e *Engine) Breaker() *risk.CircuitBreaker {
	return e.breaker
}

// Daily exposes today's counters
func (e *Engine) Daily() risk.DailySnapshot {
	return e.daily.Snapshot()
}
