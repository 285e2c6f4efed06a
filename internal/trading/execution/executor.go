// Package execution places and unwinds the two legs of a hedge
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"
	apperrors "funding_arb/pkg/errors"
	"funding_arb/pkg/retry"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// LegOrder is one side of a paired order
type LegOrder struct {
	Connector  core.IVenueConnector
	Instrument string
	Side       model.Side
	Size       decimal.Decimal
}

func (l LegOrder) venue() string {
	if l.Connector == nil {
		return ""
	}
	return l.Connector.Name()
}

// LegResult is the outcome of one leg. Flat means the venue held nothing on
// the leg's side, so there is no fill.
type LegResult struct {
	Venue  string
	Side   model.Side
	Result *core.OrderResult
	Flat   bool
	Err    error
}

func (r LegResult) OK() bool {
	return r.Err == nil
}

// PairFill holds both entry fills
type PairFill struct {
	Long  *core.OrderResult
	Short *core.OrderResult
}

// PairClose holds both exit outcomes
type PairClose struct {
	Long  LegResult
	Short LegResult
}

// PartialHedgeError means exactly one leg filled. The filled leg has been
// unwound unless UnwindErr is set.
type PartialHedgeError struct {
	Instrument  string
	FilledVenue string
	FailedVenue string
	LegErr      error
	UnwindErr   error
}

func (e *PartialHedgeError) Error() string {
	msg := fmt.Sprintf("partial hedge on %s: %s filled, %s failed: %v", e.Instrument, e.FilledVenue, e.FailedVenue, e.LegErr)
	if e.UnwindErr != nil {
		msg += fmt.Sprintf("; unwind on %s failed: %v", e.FilledVenue, e.UnwindErr)
	}
	return msg
}

func (e *PartialHedgeError) Unwrap() []error {
	errs := []error{apperrors.ErrPartialHedge, e.LegErr}
	if e.UnwindErr != nil {
		errs = append(errs, e.UnwindErr)
	}
	return errs
}

// Unwound reports whether the filled leg was flattened
func (e *PartialHedgeError) Unwound() bool {
	return e.UnwindErr == nil
}

// LegCloseError means at least one leg could not be closed after retries
type LegCloseError struct {
	Instrument   string
	FailedVenues []string
	Err          error
}

func (e *LegCloseError) Error() string {
	return fmt.Sprintf("close %s failed on %v: %v", e.Instrument, e.FailedVenues, e.Err)
}

func (e *LegCloseError) Unwrap() error {
	return e.Err
}

// Config for PairExecutor
type Config struct {
	OrderTimeout time.Duration
	Retry        retry.RetryPolicy
}

// PairExecutor issues both legs of a hedge concurrently and compensates a
// one-sided fill.
type PairExecutor struct {
	cfg     Config
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
}

func NewPairExecutor(cfg Config, logger core.ILogger, metrics *telemetry.MetricsHolder) *PairExecutor {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	return &PairExecutor{
		cfg:     cfg,
		logger:  logger.WithField("component", "pair_executor"),
		metrics: metrics,
	}
}

// orderContext detaches from the caller's cancellation so a leg that has
// been sent is always seen through.
func (e *PairExecutor) orderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OrderTimeout)
}

// Open places both legs and joins on both outcomes
func (e *PairExecutor) Open(ctx context.Context, long, short LegOrder) (PairFill, error) {
	if long.Connector == nil || short.Connector == nil {
		return PairFill{}, fmt.Errorf("%w: missing connector", apperrors.ErrOpenFailed)
	}

	orderCtx, cancel := e.orderContext(ctx)
	defer cancel()

	results := make(chan LegResult, 2)
	for _, leg := range []LegOrder{long, short} {
		go func(l LegOrder) {
			res, err := e.place(orderCtx, l)
			results <- LegResult{Venue: l.venue(), Side: l.Side, Result: res, Err: err}
		}(leg)
	}

	var longRes, shortRes LegResult
	for i := 0; i < 2; i++ {
		r := <-results
		if r.Side == model.SideLong {
			longRes = r
		} else {
			shortRes = r
		}
	}

	switch {
	case longRes.OK() && shortRes.OK():
		e.logger.Info("Hedge opened",
			"instrument", long.Instrument,
			"long", longRes.Venue,
			"short", shortRes.Venue,
			"size", long.Size.String())
		return PairFill{Long: longRes.Result, Short: shortRes.Result}, nil

	case !longRes.OK() && !shortRes.OK():
		e.logger.Warn("Both legs failed", "instrument", long.Instrument, "long_error", longRes.Err, "short_error", shortRes.Err)
		return PairFill{}, fmt.Errorf("%w: %s: %w", apperrors.ErrOpenFailed, long.Instrument, errors.Join(longRes.Err, shortRes.Err))
	}

	filled, failed, filledLeg := longRes, shortRes, long
	if !longRes.OK() {
		filled, failed, filledLeg = shortRes, longRes, short
	}

	e.logger.Error("One leg failed, unwinding filled leg",
		"instrument", long.Instrument,
		"filled", filled.Venue,
		"failed", failed.Venue,
		"error", failed.Err)

	if filled.Result != nil && filled.Result.Size.IsPositive() {
		filledLeg.Size = filled.Result.Size
	}
	unwindErr := e.closeLeg(orderCtx, filledLeg).Err
	if unwindErr != nil {
		e.logger.Error("CRITICAL: Unwind failed, naked exposure remains",
			"instrument", long.Instrument, "venue", filled.Venue, "error", unwindErr)
	}

	return PairFill{}, &PartialHedgeError{
		Instrument:  long.Instrument,
		FilledVenue: filled.Venue,
		FailedVenue: failed.Venue,
		LegErr:      failed.Err,
		UnwindErr:   unwindErr,
	}
}

// Close reduces each leg by its own size concurrently, so other hedges on the
// same venue and instrument are untouched. Each leg is retried on transient
// errors. A non-nil error is always a *LegCloseError.
func (e *PairExecutor) Close(ctx context.Context, long, short LegOrder) (PairClose, error) {
	orderCtx, cancel := e.orderContext(ctx)
	defer cancel()

	results := make(chan LegResult, 2)
	for _, leg := range []LegOrder{long, short} {
		go func(l LegOrder) {
			results <- e.closeLeg(orderCtx, l)
		}(leg)
	}

	var out PairClose
	for i := 0; i < 2; i++ {
		r := <-results
		if r.Side == model.SideLong {
			out.Long = r
		} else {
			out.Short = r
		}
	}

	var failed []string
	var errs []error
	for _, r := range []LegResult{out.Long, out.Short} {
		if !r.OK() {
			failed = append(failed, r.Venue)
			errs = append(errs, r.Err)
		}
	}
	if len(failed) > 0 {
		return out, &LegCloseError{Instrument: long.Instrument, FailedVenues: failed, Err: errors.Join(errs...)}
	}
	return out, nil
}

func (e *PairExecutor) place(ctx context.Context, l LegOrder) (*core.OrderResult, error) {
	if l.Connector == nil {
		return nil, apperrors.ErrNotConnected
	}
	start := time.Now()
	res, err := l.Connector.PlaceMarketOrder(ctx, l.Instrument, l.Side, l.Size)
	e.metrics.ObserveVenueLatency(ctx, l.venue(), float64(time.Since(start).Milliseconds()))
	if err != nil {
		e.metrics.IncVenueFailure(ctx, l.venue())
		return nil, err
	}
	return res, nil
}

func (e *PairExecutor) closeLeg(ctx context.Context, l LegOrder) LegResult {
	out := LegResult{Venue: l.venue(), Side: l.Side}
	if l.Connector == nil {
		out.Err = apperrors.ErrNotConnected
		return out
	}

	err := retry.Do(ctx, e.cfg.Retry, apperrors.IsTransient, func() error {
		res, err := l.Connector.ReducePosition(ctx, l.Instrument, l.Side, l.Size)
		if errors.Is(err, apperrors.ErrNoPosition) {
			out.Flat = true
			return nil
		}
		if err != nil {
			e.logger.Warn("Close attempt failed", "venue", out.Venue, "instrument", l.Instrument, "error", err)
			return err
		}
		out.Result = res
		return nil
	})
	if err != nil {
		e.metrics.IncVenueFailure(ctx, out.Venue)
		out.Err = err
	}
	return out
}
