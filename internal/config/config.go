// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Venue modes
const (
	ModePaper = "paper"
	ModeMock  = "mock"
	ModeLive  = "live"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig              `yaml:"app"`
	Engine    EngineConfig           `yaml:"engine"`
	Venues    map[string]VenueConfig `yaml:"venues"`
	Trading   TradingConfig          `yaml:"trading"`
	Pairs     []PairConfig           `yaml:"pairs"`
	Risk      RiskConfig             `yaml:"risk"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
	Alerts    AlertsConfig           `yaml:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `yaml:"name"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	StateDBPath string `yaml:"state_db_path"` // Empty disables the position journal
}

// EngineConfig controls the control loop cadence and safety ceilings
type EngineConfig struct {
	EvaluationInterval   time.Duration `yaml:"evaluation_interval"`
	TopOpportunities     int           `yaml:"top_opportunities"`
	StatusLogEvery       int           `yaml:"status_log_every"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	VenueTimeout         time.Duration `yaml:"venue_timeout"`
	OrderTimeout         time.Duration `yaml:"order_timeout"`
	MinLiveVenues        int           `yaml:"min_live_venues"`
}

// VenueConfig contains venue-specific configuration
type VenueConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Mode               string  `yaml:"mode"`
	APIKey             Secret  `yaml:"api_key"`
	APISecret          Secret  `yaml:"api_secret"`
	Passphrase         Secret  `yaml:"passphrase"`
	BaseURL            string  `yaml:"base_url"` // Optional override for API URL
	TakerFee           float64 `yaml:"taker_fee"`
	FundingPeriodHours int     `yaml:"funding_period_hours"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	InitialBalance     float64 `yaml:"initial_balance"`

	// Seeds for mode: mock
	MockRates  map[string]float64 `yaml:"mock_rates"`
	MockPrices map[string]float64 `yaml:"mock_prices"`
}

// TradingConfig contains trading parameters
type TradingConfig struct {
	Instruments            []string `yaml:"instruments"`
	PositionSizeUSD        float64  `yaml:"position_size_usd"`
	MaxConcurrentPositions int      `yaml:"max_concurrent_positions"`
	MinSpreadThreshold     float64  `yaml:"min_spread_threshold"`
	MaxLeverage            float64  `yaml:"max_leverage"`
	MinScore               float64  `yaml:"min_score"`
	ReplacementThreshold   float64  `yaml:"replacement_threshold"`
}

// PairConfig is one entry of the venue-pair allow-list
type PairConfig struct {
	Name     string  `yaml:"name"`
	VenueA   string  `yaml:"venue_a"`
	VenueB   string  `yaml:"venue_b"`
	Priority int     `yaml:"priority"`
	Bonus    float64 `yaml:"bonus"`
}

// RiskConfig holds the loss and profit thresholds, all as fractions of notional
type RiskConfig struct {
	StopLossThreshold  float64       `yaml:"stop_loss_threshold"`
	MinProfitThreshold float64       `yaml:"min_profit_threshold"`
	TargetDailyReturn  float64       `yaml:"target_daily_return"`
	MaxDailyLoss       float64       `yaml:"max_daily_loss"`
	MaxPositionAge     time.Duration `yaml:"max_position_age"`
	EmergencyStopLoss  float64       `yaml:"emergency_stop_loss"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	HTTPPort      int  `yaml:"http_port"`
	StdoutTraces  bool `yaml:"stdout_traces"`

	// Live event stream served on /ws of the same port
	AllowedOrigins   []string `yaml:"allowed_origins"`
	Production       bool     `yaml:"production"`
	MaxWSConnections int      `yaml:"max_ws_connections"`
}

// AlertsConfig configures the optional notification channels
type AlertsConfig struct {
	SlackWebhook   Secret `yaml:"slack_webhook"`
	TelegramToken  Secret `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// KnownPairBonuses are the score bonuses for pairs that include an hourly venue
var KnownPairBonuses = map[string]float64{
	"binance_hyperliquid": 10,
	"kucoin_hyperliquid":  8,
	"binance_kucoin":      6,
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML config bytes
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills zero-valued settings
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "funding_arb"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "INFO"
	}

	e := &c.Engine
	if e.EvaluationInterval == 0 {
		e.EvaluationInterval = 300 * time.Second
	}
	if e.TopOpportunities == 0 {
		e.TopOpportunities = 5
	}
	if e.StatusLogEvery == 0 {
		e.StatusLogEvery = 20
	}
	if e.MaxConsecutiveErrors == 0 {
		e.MaxConsecutiveErrors = 10
	}
	if e.VenueTimeout == 0 {
		e.VenueTimeout = 10 * time.Second
	}
	if e.OrderTimeout == 0 {
		e.OrderTimeout = 30 * time.Second
	}
	if e.MinLiveVenues == 0 {
		e.MinLiveVenues = 2
	}

	for name, v := range c.Venues {
		if v.Mode == "" {
			v.Mode = ModePaper
		}
		if v.TakerFee == 0 {
			v.TakerFee = 0.0005
		}
		if v.FundingPeriodHours == 0 {
			v.FundingPeriodHours = defaultFundingPeriod(name)
		}
		if v.RequestsPerSecond == 0 {
			v.RequestsPerSecond = 5
		}
		if v.InitialBalance == 0 {
			v.InitialBalance = 10000
		}
		c.Venues[name] = v
	}

	t := &c.Trading
	if len(t.Instruments) == 0 {
		t.Instruments = []string{"BTC", "ETH", "SOL", "AVAX", "ATOM"}
	}
	if t.PositionSizeUSD == 0 {
		t.PositionSizeUSD = 1000
	}
	if t.MaxConcurrentPositions == 0 {
		t.MaxConcurrentPositions = 3
	}
	if t.MinSpreadThreshold == 0 {
		t.MinSpreadThreshold = 0.0005
	}
	if t.MaxLeverage == 0 {
		t.MaxLeverage = 3
	}
	if t.MinScore == 0 {
		t.MinScore = 30
	}
	if t.ReplacementThreshold == 0 {
		t.ReplacementThreshold = 1.5
	}

	if len(c.Pairs) == 0 {
		c.Pairs = c.defaultPairs()
	}
	for i := range c.Pairs {
		p := &c.Pairs[i]
		if p.Name == "" {
			p.Name = p.VenueA + "_" + p.VenueB
		}
		if p.Bonus == 0 {
			p.Bonus = KnownPairBonuses[p.Name]
		}
	}

	r := &c.Risk
	if r.StopLossThreshold == 0 {
		r.StopLossThreshold = -0.005
	}
	if r.MinProfitThreshold == 0 {
		r.MinProfitThreshold = 0.0002
	}
	if r.TargetDailyReturn == 0 {
		r.TargetDailyReturn = 0.02
	}
	if r.MaxDailyLoss == 0 {
		r.MaxDailyLoss = -0.01
	}
	if r.MaxPositionAge == 0 {
		r.MaxPositionAge = 672 * time.Hour
	}
	if r.EmergencyStopLoss == 0 {
		r.EmergencyStopLoss = -0.02
	}

	if c.Telemetry.HTTPPort == 0 {
		c.Telemetry.HTTPPort = 9090
	}
	if c.Telemetry.MaxWSConnections == 0 {
		c.Telemetry.MaxWSConnections = 100
	}
}

func defaultFundingPeriod(venue string) int {
	if venue == "hyperliquid" {
		return 1
	}
	return 8
}

// defaultPairs builds the standard allow-list restricted to enabled venues
func (c *Config) defaultPairs() []PairConfig {
	candidates := []PairConfig{
		{Name: "binance_hyperliquid", VenueA: "binance", VenueB: "hyperliquid", Priority: 1},
		{Name: "kucoin_hyperliquid", VenueA: "kucoin", VenueB: "hyperliquid", Priority: 2},
		{Name: "binance_kucoin", VenueA: "binance", VenueB: "kucoin", Priority: 3},
	}
	var pairs []PairConfig
	for _, p := range candidates {
		if c.Venues[p.VenueA].Enabled && c.Venues[p.VenueB].Enabled {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// Validate performs comprehensive validation of the configuration. Every
// failure is reported; the result unwraps to the individual ValidationErrors.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateAppConfig()...)
	errs = append(errs, c.validateEngineConfig()...)
	errs = append(errs, c.validateVenues()...)
	errs = append(errs, c.validatePairs()...)
	errs = append(errs, c.validateTradingConfig()...)
	errs = append(errs, c.validateRiskConfig()...)
	return errors.Join(errs...)
}

func (c *Config) validateAppConfig() []error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return []error{ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}}
	}
	return nil
}

func (c *Config) validateEngineConfig() []error {
	var errs []error
	if c.Engine.EvaluationInterval < 30*time.Second || c.Engine.EvaluationInterval > 3600*time.Second {
		errs = append(errs, ValidationError{
			Field:   "engine.evaluation_interval",
			Value:   c.Engine.EvaluationInterval,
			Message: "must be between 30s and 3600s",
		})
	}
	if c.Engine.MinLiveVenues < 2 {
		errs = append(errs, ValidationError{
			Field:   "engine.min_live_venues",
			Value:   c.Engine.MinLiveVenues,
			Message: "arbitrage needs at least 2 venues",
		})
	}
	if c.Engine.MaxConsecutiveErrors < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_consecutive_errors",
			Value:   c.Engine.MaxConsecutiveErrors,
			Message: "must be positive",
		})
	}
	return errs
}

func (c *Config) validateVenues() []error {
	var errs []error
	enabled := c.EnabledVenues()
	if len(enabled) < 2 {
		errs = append(errs, ValidationError{
			Field:   "venues",
			Value:   len(enabled),
			Message: "at least 2 venues must be enabled",
		})
	}
	for _, name := range enabled {
		v := c.Venues[name]
		if !contains([]string{ModePaper, ModeMock, ModeLive}, v.Mode) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("venues.%s.mode", name),
				Value:   v.Mode,
				Message: "must be one of: paper, mock, live",
			})
		}
		if v.Mode == ModeLive && (!v.APIKey.IsSet() || !v.APISecret.IsSet()) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("venues.%s.api_key", name),
				Message: "API credentials are required in live mode",
			})
		}
		if v.TakerFee < 0 || v.TakerFee >= 0.01 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("venues.%s.taker_fee", name),
				Value:   v.TakerFee,
				Message: "must be in [0, 0.01)",
			})
		}
		if v.FundingPeriodHours < 1 || v.FundingPeriodHours > 24 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("venues.%s.funding_period_hours", name),
				Value:   v.FundingPeriodHours,
				Message: "must be between 1 and 24",
			})
		}
	}
	return errs
}

func (c *Config) validatePairs() []error {
	var errs []error
	if len(c.Pairs) == 0 {
		errs = append(errs, ValidationError{
			Field:   "pairs",
			Message: "at least one venue pair is required",
		})
	}
	seen := make(map[string]bool)
	for i, p := range c.Pairs {
		field := fmt.Sprintf("pairs[%d]", i)
		if seen[p.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Value: p.Name, Message: "duplicate pair name"})
		}
		seen[p.Name] = true
		if p.VenueA == p.VenueB {
			errs = append(errs, ValidationError{Field: field, Value: p.VenueA, Message: "a pair needs two distinct venues"})
		}
		for _, venue := range []string{p.VenueA, p.VenueB} {
			if !c.Venues[venue].Enabled {
				errs = append(errs, ValidationError{Field: field, Value: venue, Message: "venue is not enabled"})
			}
		}
	}
	return errs
}

func (c *Config) validateTradingConfig() []error {
	var errs []error
	t := c.Trading
	if len(t.Instruments) == 0 {
		errs = append(errs, ValidationError{Field: "trading.instruments", Message: "at least one instrument is required"})
	}
	if t.PositionSizeUSD <= 0 {
		errs = append(errs, ValidationError{Field: "trading.position_size_usd", Value: t.PositionSizeUSD, Message: "must be positive"})
	}
	if t.MaxConcurrentPositions <= 0 {
		errs = append(errs, ValidationError{Field: "trading.max_concurrent_positions", Value: t.MaxConcurrentPositions, Message: "must be positive"})
	}
	if t.MinSpreadThreshold < 0 {
		errs = append(errs, ValidationError{Field: "trading.min_spread_threshold", Value: t.MinSpreadThreshold, Message: "must not be negative"})
	}
	if t.MaxLeverage < 1 {
		errs = append(errs, ValidationError{Field: "trading.max_leverage", Value: t.MaxLeverage, Message: "must be at least 1"})
	}
	if t.MinScore < 0 || t.MinScore > 100 {
		errs = append(errs, ValidationError{Field: "trading.min_score", Value: t.MinScore, Message: "must be between 0 and 100"})
	}
	if t.ReplacementThreshold <= 1 {
		errs = append(errs, ValidationError{Field: "trading.replacement_threshold", Value: t.ReplacementThreshold, Message: "must be greater than 1"})
	}
	return errs
}

func (c *Config) validateRiskConfig() []error {
	var errs []error
	r := c.Risk
	if r.StopLossThreshold >= 0 {
		errs = append(errs, ValidationError{Field: "risk.stop_loss_threshold", Value: r.StopLossThreshold, Message: "must be negative"})
	}
	if r.StopLossThreshold <= r.EmergencyStopLoss {
		errs = append(errs, ValidationError{
			Field:   "risk.stop_loss_threshold",
			Value:   r.StopLossThreshold,
			Message: fmt.Sprintf("must be greater than emergency_stop_loss (%v)", r.EmergencyStopLoss),
		})
	}
	if r.MinProfitThreshold >= r.TargetDailyReturn {
		errs = append(errs, ValidationError{
			Field:   "risk.min_profit_threshold",
			Value:   r.MinProfitThreshold,
			Message: fmt.Sprintf("must be less than target_daily_return (%v)", r.TargetDailyReturn),
		})
	}
	if r.MaxDailyLoss >= 0 {
		errs = append(errs, ValidationError{Field: "risk.max_daily_loss", Value: r.MaxDailyLoss, Message: "must be negative"})
	}
	if r.MaxPositionAge <= 0 {
		errs = append(errs, ValidationError{Field: "risk.max_position_age", Value: r.MaxPositionAge, Message: "must be positive"})
	}
	return errs
}

// EnabledVenues returns the sorted names of enabled venues
func (c *Config) EnabledVenues() []string {
	var names []string
	for name, v := range c.Venues {
		if v.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// String returns a YAML rendering of the configuration with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// PositionSize is the configured notional per hedge
func (t TradingConfig) PositionSize() decimal.Decimal {
	return decimal.NewFromFloat(t.PositionSizeUSD)
}

func (t TradingConfig) MinSpread() decimal.Decimal {
	return decimal.NewFromFloat(t.MinSpreadThreshold)
}

func (t TradingConfig) Leverage() decimal.Decimal {
	return decimal.NewFromFloat(t.MaxLeverage)
}

func (r RiskConfig) StopLoss() decimal.Decimal {
	return decimal.NewFromFloat(r.StopLossThreshold)
}

func (r RiskConfig) MinProfit() decimal.Decimal {
	return decimal.NewFromFloat(r.MinProfitThreshold)
}

func (r RiskConfig) DailyLossLimit() decimal.Decimal {
	return decimal.NewFromFloat(r.MaxDailyLoss)
}

func (r RiskConfig) EmergencyLoss() decimal.Decimal {
	return decimal.NewFromFloat(r.EmergencyStopLoss)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{LogLevel: "INFO"},
		Venues: map[string]VenueConfig{
			"binance":     {Enabled: true, Mode: ModeMock},
			"kucoin":      {Enabled: true, Mode: ModeMock},
			"hyperliquid": {Enabled: true, Mode: ModeMock},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}
