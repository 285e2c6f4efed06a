// Package alert fans operator notifications out to Slack, Telegram and any
// other registered channel.
package alert

import (
	"context"
	"sync"
	"time"

	"funding_arb/internal/core"
)

type AlertLevel = core.AlertLevel

const (
	Info     = core.AlertInfo
	Warning  = core.AlertWarning
	Error    = core.AlertError
	Critical = core.AlertCritical
)

var levelRank = map[AlertLevel]int{
	Info:     0,
	Warning:  1,
	Error:    2,
	Critical: 3,
}

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

type AlertManager struct {
	channels []AlertChannel
	minLevel AlertLevel
	logger   core.ILogger
	mu       sync.RWMutex
	inflight sync.WaitGroup
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		minLevel: Info,
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// SetMinLevel drops alerts below level before they reach any channel
func (am *AlertManager) SetMinLevel(level AlertLevel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.minLevel = level
}

// Alert delivers asynchronously to every channel. It never blocks the caller.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.mu.RLock()
	defer am.mu.RUnlock()

	if levelRank[level] < levelRank[am.minLevel] {
		return
	}
	am.logger.Info("Triggering alert", "title", title, "level", level)

	// Delivery outlives the caller's context, bounded per channel
	base := context.WithoutCancel(ctx)
	for _, ch := range am.channels {
		am.inflight.Add(1)
		go func(c AlertChannel) {
			defer am.inflight.Done()
			timeoutCtx, cancel := context.WithTimeout(base, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Flush waits for in-flight deliveries or until ctx is done
func (am *AlertManager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		am.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
