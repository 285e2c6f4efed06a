package arbengine

import (
	"fmt"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/exchange"
)

// NewFromConfig builds a connector for every enabled venue and wires the
// engine over them
func NewFromConfig(cfg *config.Config, logger core.ILogger, deps Deps) (*Engine, error) {
	venues := cfg.EnabledVenues()
	connectors := make(map[string]core.IVenueConnector, len(venues))
	for _, name := range venues {
		conn, err := exchange.NewConnector(name, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		connectors[name] = conn
		logger.Info("Venue configured", "venue", name, "mode", cfg.Venues[name].Mode)
	}
	return NewEngine(NewEngineConfig(cfg), connectors, logger, deps), nil
}
