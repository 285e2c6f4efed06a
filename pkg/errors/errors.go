package apperrors

import "errors"

// Standardized Venue Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrNotConnected          = errors.New("venue not connected")
	ErrNoPosition            = errors.New("no open position on venue")
	ErrUnsupported           = errors.New("operation not supported")
)

// Trading and lifecycle errors
var (
	ErrStaleData          = errors.New("stale market data")
	ErrPartialHedge       = errors.New("partial hedge: one leg filled, other failed")
	ErrCapacityReached    = errors.New("max concurrent positions reached")
	ErrDuplicatePosition  = errors.New("position already open for pair and instrument")
	ErrVenueConflict      = errors.New("venue already holds the opposite side of instrument")
	ErrPositionNotFound   = errors.New("position not found")
	ErrOpportunityInvalid = errors.New("opportunity failed execution gate")
	ErrOpenFailed         = errors.New("failed to open hedge")
	ErrInsufficientVenues = errors.New("fewer than two live venues")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrEmergencyStop      = errors.New("emergency stop triggered")
	ErrEngineNotRunning   = errors.New("engine not running")
)

// IsTransient reports whether err is worth retrying on the next attempt
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrExchangeMaintenance)
}
