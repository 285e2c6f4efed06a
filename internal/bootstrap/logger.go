package bootstrap

import (
	"funding_arb/pkg/logging"
)

// InitLogger builds the process logger. Telemetry must already be set up so
// the OTel bridge picks up the global log provider.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	return logging.NewZapLoggerWithOptions(logging.Options{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		File:        cfg.App.LogFile,
		MaxBackups:  5,
		MaxAgeDays:  14,
	})
}
