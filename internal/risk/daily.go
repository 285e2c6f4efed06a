package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DailySnapshot is a copy of the current day's counters
type DailySnapshot struct {
	Day            time.Time       `json:"day"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	ClosedNotional decimal.Decimal `json:"closed_notional"`
	Opened         int             `json:"opened"`
	Closed         int             `json:"closed"`
}

// DailyTracker accumulates realized P&L and trade counts for the current
// local day. The loss fraction is taken over capital actually at risk: the
// notional still open plus the notional already closed today.
type DailyTracker struct {
	mu             sync.Mutex
	loc            *time.Location
	day            time.Time
	realized       decimal.Decimal
	closedNotional decimal.Decimal
	opened         int
	closed         int
}

func NewDailyTracker(loc *time.Location, now time.Time) *DailyTracker {
	if loc == nil {
		loc = time.Local
	}
	return &DailyTracker{
		loc: loc,
		day: startOfDay(now, loc),
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// Roll resets the counters when now falls on a later day. It reports whether a reset happened.
func (d *DailyTracker) Roll(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := startOfDay(now, d.loc)
	if !today.After(d.day) {
		return false
	}
	d.day = today
	d.realized = decimal.Zero
	d.closedNotional = decimal.Zero
	d.opened = 0
	d.closed = 0
	return true
}

func (d *DailyTracker) RecordOpen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
}

// RecordClose adds a closed position's net P&L and its notional
func (d *DailyTracker) RecordClose(pnl, notional decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.realized = d.realized.Add(pnl)
	d.closedNotional = d.closedNotional.Add(notional)
	d.closed++
}

// DayStart is the start of the tracked day
func (d *DailyTracker) DayStart() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.day
}

// PnL is realized today plus the given unrealized amount
func (d *DailyTracker) PnL(unrealized decimal.Decimal) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.realized.Add(unrealized)
}

// Fraction is (realized today + unrealized) / (activeNotional + closed today).
// Zero capital yields zero.
func (d *DailyTracker) Fraction(unrealized, activeNotional decimal.Decimal) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()

	capital := activeNotional.Add(d.closedNotional)
	if !capital.IsPositive() {
		return decimal.Zero
	}
	return d.realized.Add(unrealized).Div(capital)
}

func (d *DailyTracker) Snapshot() DailySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DailySnapshot{
		Day:            d.day,
		RealizedPnL:    d.realized,
		ClosedNotional: d.closedNotional,
		Opened:         d.opened,
		Closed:         d.closed,
	}
}
