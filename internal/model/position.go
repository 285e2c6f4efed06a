package model

import (
	"fmt"
	"time"

	apperrors "funding_arb/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultHoldPeriod is added to the open time to derive ExpectedCloseAt
const DefaultHoldPeriod = 4 * 7 * 24 * time.Hour

// PositionStatus is the lifecycle state of a hedge
type PositionStatus int

const (
	PositionOpening PositionStatus = iota
	PositionActive
	PositionClosing
	PositionClosed
	PositionFailed
)

func (s PositionStatus) String() string {
	switch s {
	case PositionOpening:
		return "opening"
	case PositionActive:
		return "active"
	case PositionClosing:
		return "closing"
	case PositionClosed:
		return "closed"
	case PositionFailed:
		return "failed"
	}
	return fmt.Sprintf("PositionStatus(%d)", int(s))
}

func (s PositionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PositionStatus) UnmarshalText(text []byte) error {
	for st := PositionOpening; st <= PositionFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown position status %q", text)
}

var positionTransitions = map[PositionStatus][]PositionStatus{
	PositionOpening: {PositionActive, PositionFailed},
	PositionActive:  {PositionClosing},
	PositionClosing: {PositionClosed, PositionFailed, PositionActive},
	PositionFailed:  {PositionClosing},
}

// CanTransition reports whether s -> to is a legal move
func (s PositionStatus) CanTransition(to PositionStatus) bool {
	for _, allowed := range positionTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsOpen is true for every status that still holds exposure
func (s PositionStatus) IsOpen() bool {
	return s != PositionClosed
}

// PositionKey is the (pair, instrument) uniqueness key
func PositionKey(pairID, instrument string) string {
	return pairID + ":" + instrument
}

// PositionLeg is the execution record of one side of a hedge
type PositionLeg struct {
	Venue        string          `json:"venue"`
	Side         Side            `json:"side"`
	Size         decimal.Decimal `json:"size"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	OrderID      string          `json:"order_id"`
	CloseOrderID string          `json:"close_order_id,omitempty"`
	EntryFee     decimal.Decimal `json:"entry_fee"`
	ExitFee      decimal.Decimal `json:"exit_fee"`
	FundingRate  decimal.Decimal `json:"funding_rate"`
	PeriodHours  int             `json:"period_hours"`
	Closed       bool            `json:"closed"`
}

// PnL is the price P&L of the leg at its exit price if closed, else its current price
func (l PositionLeg) PnL() decimal.Decimal {
	price := l.CurrentPrice
	if l.Closed && !l.ExitPrice.IsZero() {
		price = l.ExitPrice
	}
	if price.IsZero() {
		return decimal.Zero
	}
	if l.Side == SideShort {
		return l.EntryPrice.Sub(price).Mul(l.Size)
	}
	return price.Sub(l.EntryPrice).Mul(l.Size)
}

// Notional is size × entry price
func (l PositionLeg) Notional() decimal.Decimal {
	return l.Size.Mul(l.EntryPrice)
}

// Fees paid on the leg so far
func (l PositionLeg) Fees() decimal.Decimal {
	return l.EntryFee.Add(l.ExitFee)
}

// FundingAccount tracks funding collected by each leg
type FundingAccount struct {
	LongCollected  decimal.Decimal `json:"long_collected"`
	ShortCollected decimal.Decimal `json:"short_collected"`
	EntrySpread    decimal.Decimal `json:"entry_spread"`
	CurrentSpread  decimal.Decimal `json:"current_spread"`
	LastAccrual    time.Time       `json:"last_accrual"`
}

// Total funding collected across both legs
func (f FundingAccount) Total() decimal.Decimal {
	return f.LongCollected.Add(f.ShortCollected)
}

// Position is an open or historical two-legged hedge
type Position struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument"`
	PairID     string          `json:"pair_id"`
	LongVenue  string          `json:"long_venue"`
	ShortVenue string          `json:"short_venue"`
	Notional   decimal.Decimal `json:"notional"`
	Leverage   decimal.Decimal `json:"leverage"`
	Size       decimal.Decimal `json:"size"`

	Long    PositionLeg    `json:"long"`
	Short   PositionLeg    `json:"short"`
	Funding FundingAccount `json:"funding"`

	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalFees     decimal.Decimal `json:"total_fees"`

	OpenedAt        time.Time `json:"opened_at"`
	ExpectedCloseAt time.Time `json:"expected_close_at"`
	ClosedAt        time.Time `json:"closed_at,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`

	Status            PositionStatus `json:"status"`
	CloseReason       string         `json:"close_reason,omitempty"`
	EntryScore        float64        `json:"entry_score"`
	NeedsIntervention bool           `json:"needs_intervention"`
}

// NewPosition builds an Opening position. The legs must be on opposite sides.
func NewPosition(instrument, pairID string, long, short PositionLeg, notional, leverage decimal.Decimal, now time.Time) (*Position, error) {
	if long.Side == short.Side {
		return nil, fmt.Errorf("hedge legs must have opposite sides, both are %s", long.Side)
	}
	if long.Side == SideShort {
		long, short = short, long
	}
	if long.CurrentPrice.IsZero() {
		long.CurrentPrice = long.EntryPrice
	}
	if short.CurrentPrice.IsZero() {
		short.CurrentPrice = short.EntryPrice
	}

	entrySpread := short.FundingRate.Sub(long.FundingRate)
	return &Position{
		ID:         uuid.NewString(),
		Instrument: instrument,
		PairID:     pairID,
		LongVenue:  long.Venue,
		ShortVenue: short.Venue,
		Notional:   notional,
		Leverage:   leverage,
		Size:       long.Size,
		Long:       long,
		Short:      short,
		Funding: FundingAccount{
			EntrySpread:   entrySpread,
			CurrentSpread: entrySpread,
			LastAccrual:   now,
		},
		TotalFees:       long.EntryFee.Add(short.EntryFee),
		OpenedAt:        now,
		ExpectedCloseAt: now.Add(DefaultHoldPeriod),
		LastUpdated:     now,
		Status:          PositionOpening,
	}, nil
}

// Key is the (pair, instrument) uniqueness key
func (p *Position) Key() string {
	return PositionKey(p.PairID, p.Instrument)
}

// Transition moves the status, rejecting illegal moves
func (p *Position) Transition(to PositionStatus) error {
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("%w: position %s %s -> %s", apperrors.ErrInvalidTransition, p.ID, p.Status, to)
	}
	p.Status = to
	return nil
}

// Age since open
func (p *Position) Age(now time.Time) time.Duration {
	end := now
	if !p.ClosedAt.IsZero() {
		end = p.ClosedAt
	}
	return end.Sub(p.OpenedAt)
}

// TotalPnL is leg price P&L plus funding collected
func (p *Position) TotalPnL() decimal.Decimal {
	return p.Long.PnL().Add(p.Short.PnL()).Add(p.Funding.Total())
}

// ROI is TotalPnL / Notional
func (p *Position) ROI() decimal.Decimal {
	if p.Notional.IsZero() {
		return decimal.Zero
	}
	return p.TotalPnL().Div(p.Notional)
}

// NetPnL is TotalPnL − TotalFees, or Realized − fees once closed
func (p *Position) NetPnL() decimal.Decimal {
	if p.Status == PositionClosed {
		return p.RealizedPnL.Sub(p.TotalFees)
	}
	return p.TotalPnL().Sub(p.TotalFees)
}

// DailySpreadRate is the current signed spread scaled to 24h
func (p *Position) DailySpreadRate() decimal.Decimal {
	return p.Funding.CurrentSpread.Mul(EventsPerDay(p.Long.PeriodHours, p.Short.PeriodHours))
}

// MarkToMarket updates prices and rates and accrues funding since the last
// accrual. The long leg receives −longRate and the short leg +shortRate per
// period on its entry notional.
func (p *Position) MarkToMarket(longPrice, shortPrice, longRate, shortRate decimal.Decimal, now time.Time) {
	if elapsed := now.Sub(p.Funding.LastAccrual); elapsed > 0 {
		hours := decimal.NewFromFloat(elapsed.Hours())
		p.Funding.LongCollected = p.Funding.LongCollected.Add(
			accrue(p.Long.FundingRate.Neg(), p.Long.Notional(), hours, p.Long.PeriodHours))
		p.Funding.ShortCollected = p.Funding.ShortCollected.Add(
			accrue(p.Short.FundingRate, p.Short.Notional(), hours, p.Short.PeriodHours))
		p.Funding.LastAccrual = now
	}

	if longPrice.IsPositive() {
		p.Long.CurrentPrice = longPrice
	}
	if shortPrice.IsPositive() {
		p.Short.CurrentPrice = shortPrice
	}
	p.Long.FundingRate = longRate
	p.Short.FundingRate = shortRate
	p.Funding.CurrentSpread = shortRate.Sub(longRate)
	p.UnrealizedPnL = p.TotalPnL()
	p.LastUpdated = now
}

func accrue(rate, notional, hours decimal.Decimal, periodHours int) decimal.Decimal {
	if periodHours <= 0 {
		periodHours = DefaultPeriodHours
	}
	return rate.Mul(notional).Mul(hours).Div(decimal.NewFromInt(int64(periodHours)))
}

// Finalize fixes realized P&L from the exit fills and marks the position closed
func (p *Position) Finalize(reason string, now time.Time) error {
	if err := p.Transition(PositionClosed); err != nil {
		return err
	}
	p.TotalFees = p.Long.Fees().Add(p.Short.Fees())
	p.RealizedPnL = p.TotalPnL()
	p.UnrealizedPnL = decimal.Zero
	p.ClosedAt = now
	p.LastUpdated = now
	p.CloseReason = reason
	p.NeedsIntervention = false
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// PositionSummary is the flattened view used in status output
type PositionSummary struct {
	ID            string          `json:"id"`
	PairID        string          `json:"pair_id"`
	Instrument    string          `json:"instrument"`
	LongVenue     string          `json:"long_venue"`
	ShortVenue    string          `json:"short_venue"`
	Notional      decimal.Decimal `json:"notional"`
	Status        string          `json:"status"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	FundingTotal  decimal.Decimal `json:"funding_total"`
	ROI           decimal.Decimal `json:"roi"`
	CurrentSpread decimal.Decimal `json:"current_spread"`
	AgeHours      float64         `json:"age_hours"`
	NeedsAction   bool            `json:"needs_intervention"`
}

func (p *Position) Summary(now time.Time) PositionSummary {
	return PositionSummary{
		ID:            p.ID,
		PairID:        p.PairID,
		Instrument:    p.Instrument,
		LongVenue:     p.LongVenue,
		ShortVenue:    p.ShortVenue,
		Notional:      p.Notional,
		Status:        p.Status.String(),
		UnrealizedPnL: p.UnrealizedPnL,
		FundingTotal:  p.Funding.Total(),
		ROI:           p.ROI(),
		CurrentSpread: p.Funding.CurrentSpread,
		AgeHours:      p.Age(now).Hours(),
		NeedsAction:   p.NeedsIntervention,
	}
}
