// Package risk holds the engine's safety counters: a circuit breaker over
// cycle errors and trade losses, and the daily P&L tracker.
package risk

import (
	"sync"
	"time"

	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

type CircuitConfig struct {
	Name                 string
	MaxConsecutiveErrors int
	MaxConsecutiveLosses int
	MaxDrawdownAmount    decimal.Decimal
	CooldownPeriod       time.Duration // Zero means manual reset only
}

// CircuitStatus is a point-in-time copy of the breaker counters
type CircuitStatus struct {
	IsOpen            bool            `json:"is_open"`
	Reason            string          `json:"reason,omitempty"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	TotalPnL          decimal.Decimal `json:"total_pnl"`
	OpenedAt          time.Time       `json:"opened_at,omitempty"`
}

type CircuitBreaker struct {
	mu                sync.RWMutex
	state             CircuitState
	config            CircuitConfig
	metrics           *telemetry.MetricsHolder
	consecutiveErrors int
	consecutiveLosses int
	totalPnL          decimal.Decimal
	lastTripped       time.Time
	reason            string
}

func NewCircuitBreaker(config CircuitConfig, metrics *telemetry.MetricsHolder) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "global"
	}
	return &CircuitBreaker{
		state:   CircuitClosed,
		config:  config,
		metrics: metrics,
	}
}

// RecordCycle counts a failed cycle or resets the streak on success.
// It returns true when this call tripped the breaker.
func (cb *CircuitBreaker) RecordCycle(err error) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.consecutiveErrors = 0
		return false
	}
	cb.consecutiveErrors++

	if cb.state == CircuitOpen {
		return false
	}
	if cb.config.MaxConsecutiveErrors > 0 && cb.consecutiveErrors >= cb.config.MaxConsecutiveErrors {
		cb.trip("Max consecutive cycle errors reached")
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordTrade(pnl decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if pnl.IsNegative() {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}

	cb.totalPnL = cb.totalPnL.Add(pnl)

	cb.checkThresholds()
}

func (cb *CircuitBreaker) checkThresholds() {
	if cb.state == CircuitOpen {
		return
	}

	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		cb.trip("Max consecutive losses reached")
		return
	}

	if !cb.config.MaxDrawdownAmount.IsZero() && cb.totalPnL.LessThan(cb.config.MaxDrawdownAmount.Neg()) {
		cb.trip("Max drawdown amount reached")
		return
	}
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.state = CircuitOpen
	cb.lastTripped = time.Now()
	cb.reason = reason
	cb.metrics.SetCircuitBreakerOpen(cb.config.Name, true)
}

func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.config.CooldownPeriod > 0 && time.Since(cb.lastTripped) > cb.config.CooldownPeriod {
			cb.reset()
			return false
		}
		return true
	}
	return false
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
}

func (cb *CircuitBreaker) reset() {
	cb.state = CircuitClosed
	cb.consecutiveErrors = 0
	cb.consecutiveLosses = 0
	cb.totalPnL = decimal.Zero
	cb.reason = ""
	cb.metrics.SetCircuitBreakerOpen(cb.config.Name, false)
}

// Open manually trips the circuit breaker
func (cb *CircuitBreaker) Open(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip(reason)
}

func (cb *CircuitBreaker) ConsecutiveErrors() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveErrors
}

func (cb *CircuitBreaker) Status() CircuitStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitStatus{
		IsOpen:            cb.state == CircuitOpen,
		Reason:            cb.reason,
		ConsecutiveErrors: cb.consecutiveErrors,
		ConsecutiveLosses: cb.consecutiveLosses,
		TotalPnL:          cb.totalPnL,
		OpenedAt:          cb.lastTripped,
	}
}
