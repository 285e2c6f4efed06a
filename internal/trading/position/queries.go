package position

import (
	"fmt"
	"sort"
	"time"

	"funding_arb/internal/model"
	apperrors "funding_arb/pkg/errors"

	"github.com/shopspring/decimal"
)

// Stats is the aggregate view of the manager's book
type Stats struct {
	Active        int             `json:"active"`
	Reserved      int             `json:"reserved"`
	TotalOpened   int             `json:"total_opened"`
	TotalClosed   int             `json:"total_closed"`
	WinRate       float64         `json:"win_rate"`
	TotalRealized decimal.Decimal `json:"total_realized"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	AvgAgeHours   float64         `json:"avg_age_hours"`
}

// PerformanceSummary extends Stats with open exposure and closed-trade extremes
type PerformanceSummary struct {
	Stats
	ActiveNotional    decimal.Decimal `json:"active_notional"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	FundingCollected  decimal.Decimal `json:"funding_collected"`
	BestTrade         decimal.Decimal `json:"best_trade"`
	WorstTrade        decimal.Decimal `json:"worst_trade"`
	AvgHoldHours      float64         `json:"avg_hold_hours"`
	NeedsIntervention int             `json:"needs_intervention"`
}

// Active returns copies of the active positions ordered by open time
func (m *Manager) Active() []*model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Position, 0, len(m.active))
	for _, pos := range m.active {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Get returns a copy of an active or historical position
func (m *Manager) Get(id string) (*model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pos, ok := m.active[id]; ok {
		return pos.Clone(), nil
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, id)
}

// History returns up to n most recently closed positions, newest first. n <= 0 returns all.
func (m *Manager) History(n int) []*model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]*model.Position, 0, n)
	for i := len(m.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.history[i].Clone())
	}
	return out
}

// Count is the number of active positions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// HasCapacity reports whether another position could be admitted now
func (m *Manager) HasCapacity() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)+len(m.reserved) < m.cfg.MaxPositions
}

// Summaries of the active positions for status output
func (m *Manager) Summaries() []model.PositionSummary {
	now := m.now()
	active := m.Active()
	out := make([]model.PositionSummary, len(active))
	for i, pos := range active {
		out[i] = pos.Summary(now)
	}
	return out
}

// ActiveNotional is the notional of all open positions
func (m *Manager) ActiveNotional() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range m.active {
		total = total.Add(pos.Notional)
	}
	return total
}

// Unrealized is the summed unrealized P&L of open positions
func (m *Manager) Unrealized() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range m.active {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// CapitalAtRisk is active notional plus the notional closed since dayStart
func (m *Manager) CapitalAtRisk(dayStart time.Time) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range m.active {
		total = total.Add(pos.Notional)
	}
	for _, pos := range m.history {
		if !pos.ClosedAt.Before(dayStart) {
			total = total.Add(pos.Notional)
		}
	}
	return total
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked(m.now())
}

func (m *Manager) statsLocked(now time.Time) Stats {
	s := Stats{
		Active:        len(m.active),
		Reserved:      len(m.reserved),
		TotalOpened:   m.totalOpened,
		TotalClosed:   m.totalClosed,
		TotalRealized: m.totalRealized,
		TotalFees:     m.totalFees,
	}
	if m.totalClosed > 0 {
		s.WinRate = float64(m.wins) / float64(m.totalClosed)
	}
	if len(m.active) > 0 {
		var hours float64
		for _, pos := range m.active {
			hours += pos.Age(now).Hours()
		}
		s.AvgAgeHours = hours / float64(len(m.active))
	}
	return s
}

func (m *Manager) PerformanceSummary() PerformanceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()

	p := PerformanceSummary{Stats: m.statsLocked(now)}
	for _, pos := range m.active {
		p.ActiveNotional = p.ActiveNotional.Add(pos.Notional)
		p.UnrealizedPnL = p.UnrealizedPnL.Add(pos.UnrealizedPnL)
		p.FundingCollected = p.FundingCollected.Add(pos.Funding.Total())
		if pos.NeedsIntervention {
			p.NeedsIntervention++
		}
	}

	var holdHours float64
	for i, pos := range m.history {
		net := pos.NetPnL()
		p.FundingCollected = p.FundingCollected.Add(pos.Funding.Total())
		if i == 0 || net.GreaterThan(p.BestTrade) {
			p.BestTrade = net
		}
		if i == 0 || net.LessThan(p.WorstTrade) {
			p.WorstTrade = net
		}
		holdHours += pos.Age(now).Hours()
	}
	if len(m.history) > 0 {
		p.AvgHoldHours = holdHours / float64(len(m.history))
	}
	return p
}

// HealthCheck fails when the book lock cannot be taken within a second
func (m *Manager) HealthCheck() error {
	done := make(chan struct{})
	go func() {
		m.mu.RLock()
		m.mu.RUnlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("position manager unresponsive")
	}
}
