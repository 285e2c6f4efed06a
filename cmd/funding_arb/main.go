package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"funding_arb/internal/alert"
	"funding_arb/internal/bootstrap"
	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/engine/arbengine"
	"funding_arb/internal/infrastructure/server"
	"funding_arb/internal/trading/position"
	pkghttp "funding_arb/pkg/http"
	"funding_arb/pkg/liveserver"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: funding_arb [flags] <command>

Commands:
  run        start the arbitrage engine
  status     print the status of a running engine
  validate   check the configuration and print it with secrets redacted

Flags:
`

func main() {
	configPath := flag.String("config", "configs/funding_arb.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Status server address for the status command (default localhost:<http_port>)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("funding_arb version %s (built %s)\n", version, buildTime)
		return
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	var err error
	switch cmd {
	case "run":
		err = run(*configPath)
	case "status":
		err = status(*configPath, *addr)
	case "validate":
		err = validate(*configPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "funding_arb %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	app, err := bootstrap.NewApp(configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Cfg
	logger := app.Logger
	logger.Info("Starting funding_arb",
		"version", version,
		"venues", strings.Join(cfg.EnabledVenues(), ","),
		"instruments", strings.Join(cfg.Trading.Instruments, ","),
	)

	alerts := newAlerter(cfg, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = alerts.Flush(ctx)
	}()

	deps := arbengine.Deps{
		Alerter: alerts,
		Metrics: app.Telemetry.Metrics(),
	}
	if cfg.App.StateDBPath != "" {
		journal, err := position.NewSQLiteJournal(cfg.App.StateDBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		deps.Journal = journal
		logger.Info("Trade journal enabled", "path", cfg.App.StateDBPath)
	}

	engine, err := arbengine.NewFromConfig(cfg, logger, deps)
	if err != nil {
		return err
	}

	hub := liveserver.NewHub(logger.WithField("component", "live_hub"))
	ws := liveserver.NewServer(hub, logger.WithField("component", "live_server"), liveserver.Options{
		AllowedOrigins: cfg.Telemetry.AllowedOrigins,
		Production:     cfg.Telemetry.Production,
		MaxConnections: cfg.Telemetry.MaxWSConnections,
	})
	health := server.NewHealthServer(cfg.Telemetry.HTTPPort, engine, logger)
	health.Mount("/ws", ws)

	return app.Run(
		engine,
		health,
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			hub.Run(ctx)
			return nil
		}),
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			hub.Forward(ctx, engine.Events())
			return nil
		}),
	)
}

func newAlerter(cfg *config.Config, logger core.ILogger) *alert.AlertManager {
	am := alert.NewAlertManager(logger)
	if cfg.Alerts.SlackWebhook.IsSet() {
		am.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhook.Reveal(), cfg.App.Name))
	}
	if cfg.Alerts.TelegramToken.IsSet() && cfg.Alerts.TelegramChatID != "" {
		am.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramToken.Reveal(), cfg.Alerts.TelegramChatID))
	}
	return am
}

func status(configPath, addr string) error {
	if addr == "" {
		cfg, err := bootstrap.LoadConfig(configPath)
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("localhost:%d", cfg.Telemetry.HTTPPort)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	body, err := pkghttp.NewClient("http://"+addr, 5*time.Second, nil).Get(ctx, "/status", nil)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	fmt.Println(out.String())
	return nil
}

func validate(configPath string) error {
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Println(cfg.String())
	fmt.Printf("configuration OK: %d venues, %d pairs, %d instruments\n",
		len(cfg.EnabledVenues()), len(cfg.Pairs), len(cfg.Trading.Instruments))
	return nil
}
