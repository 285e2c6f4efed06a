package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"funding_arb/internal/config"
	"funding_arb/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) *App {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return &App{Cfg: config.DefaultConfig(), Logger: logger}
}

func TestRunContext_CancelIsGraceful(t *testing.T) {
	app := testApp(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	waiter := RunnerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- app.RunContext(ctx, waiter) }()
	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunContext did not return")
	}
}

func TestRunContext_FailureCancelsOthers(t *testing.T) {
	app := testApp(t)
	boom := errors.New("boom")

	var sawCancel bool
	err := app.RunContext(context.Background(),
		RunnerFunc(func(ctx context.Context) error { return boom }),
		RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			sawCancel = true
			return nil
		}),
	)
	assert.ErrorIs(t, err, boom)
	assert.True(t, sawCancel)
}

func TestCheckPreFlight(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()

	cfg.App.StateDBPath = filepath.Join(dir, "state.db")
	cfg.App.LogFile = filepath.Join(dir, "arb.log")
	assert.NoError(t, checkPreFlight(cfg))

	cfg.App.StateDBPath = filepath.Join(dir, "missing", "state.db")
	assert.Error(t, checkPreFlight(cfg))

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.App.StateDBPath = ""
	cfg.App.LogFile = filepath.Join(file, "arb.log")
	assert.Error(t, checkPreFlight(cfg))
}
