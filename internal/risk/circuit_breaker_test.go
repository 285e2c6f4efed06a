package risk

import (
	"errors"
	"testing"
	"time"

	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
)

func TestCircuitBreaker_ConsecutiveLoss(t *testing.T) {
	config := CircuitConfig{
		MaxConsecutiveLosses: 3,
	}
	cb := NewCircuitBreaker(config, nil)

	// Normal operation
	if cb.IsTripped() {
		t.Error("Circuit breaker should not be tripped initially")
	}

	// 1st loss
	cb.RecordTrade(decimal.NewFromFloat(-10.0))
	if cb.IsTripped() {
		t.Error("Circuit breaker should not trip after 1 loss")
	}

	// 1 win resets count
	cb.RecordTrade(decimal.NewFromFloat(5.0))
	if cb.consecutiveLosses != 0 {
		t.Errorf("Consecutive losses should be reset after a win, got %d", cb.consecutiveLosses)
	}

	// 3 consecutive losses
	cb.RecordTrade(decimal.NewFromFloat(-5.0))
	cb.RecordTrade(decimal.NewFromFloat(-5.0))
	cb.RecordTrade(decimal.NewFromFloat(-5.0))

	if !cb.IsTripped() {
		t.Error("Circuit breaker should trip after 3 consecutive losses")
	}
}

func TestCircuitBreaker_Drawdown(t *testing.T) {
	config := CircuitConfig{
		MaxDrawdownAmount: decimal.NewFromInt(100),
	}
	cb := NewCircuitBreaker(config, nil)

	cb.RecordTrade(decimal.NewFromInt(-150))

	if !cb.IsTripped() {
		t.Error("Circuit breaker should trip after exceeding max drawdown amount")
	}
}

func TestCircuitBreaker_ConsecutiveCycleErrors(t *testing.T) {
	metrics := telemetry.NewMetricsHolder()
	cb := NewCircuitBreaker(CircuitConfig{Name: "engine", MaxConsecutiveErrors: 10}, metrics)
	boom := errors.New("cycle failed")

	for i := 1; i <= 9; i++ {
		if cb.RecordCycle(boom) {
			t.Fatalf("tripped early on error %d", i)
		}
	}
	// A clean cycle resets the streak
	cb.RecordCycle(nil)
	if cb.ConsecutiveErrors() != 0 {
		t.Fatalf("expected streak reset, got %d", cb.ConsecutiveErrors())
	}

	for i := 1; i <= 9; i++ {
		cb.RecordCycle(boom)
	}
	if cb.IsTripped() {
		t.Fatal("should not be tripped after 9 errors")
	}
	if !cb.RecordCycle(boom) {
		t.Fatal("10th consecutive error should trip")
	}
	if !cb.IsTripped() {
		t.Fatal("breaker should report tripped")
	}
	if !metrics.GetCircuitBreakerOpen("engine") {
		t.Error("circuit breaker gauge should be set")
	}

	status := cb.Status()
	if !status.IsOpen || status.ConsecutiveErrors != 10 || status.Reason == "" {
		t.Errorf("unexpected status %+v", status)
	}

	cb.Reset()
	if metrics.GetCircuitBreakerOpen("engine") {
		t.Error("circuit breaker gauge should be cleared on reset")
	}
}

func TestCircuitBreaker_Cooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{MaxConsecutiveErrors: 1, CooldownPeriod: 10 * time.Millisecond}, nil)
	cb.RecordCycle(errors.New("x"))
	if !cb.IsTripped() {
		t.Fatal("should be tripped")
	}
	time.Sleep(20 * time.Millisecond)
	if cb.IsTripped() {
		t.Error("should auto-reset after cooldown")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	config := CircuitConfig{
		MaxConsecutiveLosses: 1,
	}
	cb := NewCircuitBreaker(config, nil)

	cb.RecordTrade(decimal.NewFromInt(-10))
	if !cb.IsTripped() {
		t.Fatal("Should be tripped")
	}

	cb.Reset()
	if cb.IsTripped() {
		t.Error("Should not be tripped after reset")
	}
	if cb.consecutiveLosses != 0 {
		t.Error("Consecutive losses should be 0 after reset")
	}
}
