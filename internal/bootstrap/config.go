package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"funding_arb/internal/config"

	"github.com/joho/godotenv"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig loads an optional .env next to the working directory, then the
// YAML config (which expands ${VARS}), then runs pre-flight checks.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	for field, path := range map[string]string{
		"app.state_db_path": cfg.App.StateDBPath,
		"app.log_file":      cfg.App.LogFile,
	} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s: directory %s: %w", field, dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: %s is not a directory", field, dir)
		}
	}
	return nil
}
