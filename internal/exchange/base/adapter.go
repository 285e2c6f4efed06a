// Package base provides common functionality for venue market-data readers
package base

import (
	"fmt"
	"strings"
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	apperrors "funding_arb/pkg/errors"
	apihttp "funding_arb/pkg/http"

	"github.com/shopspring/decimal"
)

const defaultTimeout = 10 * time.Second

// Adapter carries the pieces every venue reader shares
type Adapter struct {
	Name   string
	Config config.VenueConfig
	Logger core.ILogger
	Client *apihttp.Client
}

// NewAdapter builds the shared adapter. apiKeyHeader names the header the
// venue reads its API key from; it is only attached when a key is configured.
func NewAdapter(name string, cfg config.VenueConfig, defaultURL, apiKeyHeader string, logger core.ILogger) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	logger = logger.WithField("venue", name)

	var signer apihttp.Signer
	if cfg.APIKey.IsSet() {
		signer = apihttp.APIKeySigner{Header: apiKeyHeader, Key: cfg.APIKey.Reveal()}
		logger.Debug("Using API key", "key", cfg.APIKey.Hint())
	}

	return &Adapter{
		Name:   name,
		Config: cfg,
		Logger: logger,
		Client: apihttp.NewClient(baseURL, defaultTimeout, signer),
	}
}

// PeriodHours is the configured funding interval, or fallback
func (b *Adapter) PeriodHours(fallback int) int {
	if b.Config.FundingPeriodHours > 0 {
		return b.Config.FundingPeriodHours
	}
	return fallback
}

// ParseDecimal safely parses a string to decimal
func (b *Adapter) ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("Failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *Adapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// UnknownInstrument wraps ErrInvalidSymbol with venue context
func (b *Adapter) UnknownInstrument(instrument string) error {
	return fmt.Errorf("%s %s: %w", b.Name, instrument, apperrors.ErrInvalidSymbol)
}

// NextBoundary returns the next multiple of period after now, in UTC
func NextBoundary(now time.Time, periodHours int) time.Time {
	if periodHours <= 0 {
		periodHours = 8
	}
	period := time.Duration(periodHours) * time.Hour
	return now.UTC().Truncate(period).Add(period)
}

// FetchEach calls fetch for every instrument and keeps what succeeded. The
// error is only returned when nothing succeeded.
func FetchEach[T any](instruments []string, fetch func(string) (T, error)) (map[string]T, error) {
	out := make(map[string]T, len(instruments))
	var lastErr error
	for _, inst := range instruments {
		v, err := fetch(inst)
		if err != nil {
			lastErr = err
			continue
		}
		out[inst] = v
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}
