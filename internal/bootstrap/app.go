// Package bootstrap wires configuration, logging and telemetry and runs the
// process's long-lived components under one signal-aware errgroup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"funding_arb/pkg/logging"
	"funding_arb/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App holds the process-wide dependencies
type App struct {
	Cfg       *Config
	Logger    *logging.ZapLogger
	Telemetry *telemetry.Telemetry
}

// NewApp loads configuration, then telemetry, then the logger
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tel, err := telemetry.SetupWithOptions(telemetry.Options{
		ServiceName:  cfg.App.Name,
		StdoutTraces: cfg.Telemetry.StdoutTraces,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
	}, nil
}

// Runner is a component that runs until its context is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run starts every runner and waits. SIGINT/SIGTERM or the first runner
// failure cancels the rest.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run without signal handling
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "name", a.Cfg.App.Name, "runners", len(runners))
	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close flushes telemetry and logs
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Telemetry.Shutdown(ctx)
	_ = a.Logger.Sync()
	return err
}
