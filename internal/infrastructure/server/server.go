// Package server exposes the engine's health, status and metrics over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// StatusProvider is the engine surface the server reports on
type StatusProvider interface {
	HealthCheck() (bool, model.EngineStatus, map[string]string)
}

type HealthServer struct {
	addr     string
	logger   core.ILogger
	provider StatusProvider
	mux      *http.ServeMux
	now      func() time.Time

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewHealthServer serves /health, /status and /metrics on the given port
func NewHealthServer(port int, provider StatusProvider, logger core.ILogger) *HealthServer {
	s := &HealthServer{
		addr:     ":" + strconv.Itoa(port),
		logger:   logger.WithField("component", "health_server"),
		provider: provider,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// Mount adds an extra handler, e.g. the live event stream on /ws. Call before Run.
func (s *HealthServer) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *HealthServer) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *HealthServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("Starting health server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("Health server failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("Stopping health server")
	return srv.Shutdown(shutdownCtx)
}

// Addr is the bound listen address once Run has started
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type healthResponse struct {
	Status     string            `json:"status"`
	State      string            `json:"state"`
	Time       time.Time         `json:"time"`
	LiveVenues int               `json:"live_venues"`
	Components map[string]string `json:"components"`
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy, status, components := s.provider.HealthCheck()

	resp := healthResponse{
		Status:     "ok",
		State:      status.State.String(),
		Time:       s.now(),
		LiveVenues: status.LiveVenues(),
		Components: components,
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, status, _ := s.provider.HealthCheck()
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
