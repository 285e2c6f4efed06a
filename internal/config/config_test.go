package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

const minimalYAML = `
app:
  log_level: "DEBUG"
engine:
  evaluation_interval: 60s
venues:
  binance:
    enabled: true
    api_key: "${TEST_BINANCE_API_KEY}"
  hyperliquid:
    enabled: true
  kucoin:
    enabled: false
trading:
  instruments: ["BTC", "ETH"]
risk:
  max_position_age: 48h
`

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))
	t.Setenv("TEST_BINANCE_API_KEY", "test_api_key_from_env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, Secret("test_api_key_from_env"), cfg.Venues["binance"].APIKey)
	assert.Equal(t, 60*time.Second, cfg.Engine.EvaluationInterval)
	assert.Equal(t, 48*time.Hour, cfg.Risk.MaxPositionAge)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Trading.Instruments)

	// Defaults
	assert.Equal(t, 5, cfg.Engine.TopOpportunities)
	assert.Equal(t, 10, cfg.Engine.MaxConsecutiveErrors)
	assert.Equal(t, 3, cfg.Trading.MaxConcurrentPositions)
	assert.Equal(t, 1000.0, cfg.Trading.PositionSizeUSD)
	assert.Equal(t, 0.0005, cfg.Trading.MinSpreadThreshold)
	assert.Equal(t, 1.5, cfg.Trading.ReplacementThreshold)
	assert.Equal(t, -0.01, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, -0.02, cfg.Risk.EmergencyStopLoss)
	assert.Equal(t, ModePaper, cfg.Venues["binance"].Mode)
	assert.Equal(t, 1, cfg.Venues["hyperliquid"].FundingPeriodHours)
	assert.Equal(t, 8, cfg.Venues["binance"].FundingPeriodHours)

	// Only the pair whose venues are both enabled is generated
	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, "binance_hyperliquid", cfg.Pairs[0].Name)
	assert.Equal(t, 10.0, cfg.Pairs[0].Bonus)

	assert.Equal(t, []string{"binance", "hyperliquid"}, cfg.EnabledVenues())
	assert.True(t, cfg.Trading.PositionSize().Equal(cfg.Trading.PositionSize()))
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.EvaluationInterval = 10 * time.Second
	cfg.Risk.StopLossThreshold = -0.03 // below emergency
	cfg.Risk.MinProfitThreshold = 0.05 // above target
	cfg.Pairs = append(cfg.Pairs, PairConfig{Name: "self", VenueA: "binance", VenueB: "binance"})

	err := cfg.Validate()
	require.Error(t, err)

	fields := map[string]bool{}
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	for _, e := range joined.Unwrap() {
		var ve ValidationError
		require.True(t, errors.As(e, &ve))
		fields[ve.Field] = true
	}

	assert.True(t, fields["engine.evaluation_interval"])
	assert.True(t, fields["risk.stop_loss_threshold"])
	assert.True(t, fields["risk.min_profit_threshold"])
	assert.True(t, fields["pairs[3]"])
}

func TestValidate_RequiresTwoVenues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues["kucoin"] = VenueConfig{Enabled: false}
	cfg.Venues["hyperliquid"] = VenueConfig{Enabled: false}
	cfg.Pairs = nil

	err := cfg.Validate()
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "at least 2 venues must be enabled")
}

func TestValidate_PairMustReferenceEnabledVenue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pairs = []PairConfig{{Name: "binance_okx", VenueA: "binance", VenueB: "okx"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue is not enabled")
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Pairs, 3)
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	v := cfg.Venues["binance"]
	v.APIKey = Secret("my_super_secret_api_key")
	v.APISecret = Secret("my_super_secret_secret_key")
	cfg.Venues["binance"] = v
	cfg.Alerts.SlackWebhook = Secret("https://hooks.slack.com/services/my_super_secret_hook")

	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_super_secret_secret_key")
	assert.NotContains(t, output, "my_super_secret_hook")
}
