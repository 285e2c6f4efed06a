// Package liveserver streams engine events to dashboard clients over WebSocket
package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	websocketActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "funding_arb_ws_active_connections",
		Help: "Current number of dashboard WebSocket connections",
	})

	websocketRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "funding_arb_ws_rejected_total",
		Help: "Dashboard WebSocket connections rejected before upgrade",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections)
	prometheus.MustRegister(websocketRejectedTotal)
}

// Options tunes admission control. Zero values take the defaults.
type Options struct {
	AllowedOrigins []string
	Production     bool
	MaxConnections int
	RatePerSecond  float64
	RateBurst      int
}

// Server upgrades /ws requests and pumps hub frames to each client
type Server struct {
	hub            *Hub
	logger         Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	production     bool

	connSemaphore chan struct{}

	ipLimiters sync.Map // map[string]*rate.Limiter
	rateLimit  rate.Limit
	rateBurst  int
}

func NewServer(hub *Hub, logger Logger, opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 100
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}

	s := &Server{
		hub:            hub,
		logger:         logger,
		allowedOrigins: opts.AllowedOrigins,
		production:     opts.Production,
		connSemaphore:  make(chan struct{}, opts.MaxConnections),
		rateLimit:      rate.Limit(opts.RatePerSecond),
		rateBurst:      opts.RateBurst,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin accepts exact scheme://host matches, and "*" outside production
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		s.warn("Rejected WebSocket connection with missing Origin header", "remote_addr", r.RemoteAddr)
		websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		s.warn("Rejected WebSocket connection with invalid Origin", "origin", origin, "error", err)
		websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range s.allowedOrigins {
		if allowed == "*" {
			if s.production {
				s.warn("Rejected wildcard origin in production mode", "origin", origin)
				break
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	s.warn("Rejected WebSocket connection from unauthorized origin",
		"origin", origin,
		"remote_addr", r.RemoteAddr)
	websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// ServeHTTP handles the /ws upgrade. Rate and connection limits apply before upgrading.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !s.limiter(ip).Allow() {
		s.warn("IP rate limit exceeded", "ip", ip)
		websocketRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		websocketActiveConnections.Inc()
		defer func() {
			<-s.connSemaphore
			websocketActiveConnections.Dec()
		}()
	default:
		s.warn("Max connections reached", "ip", ip)
		websocketRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.New().String())
	s.hub.Register(client)
	s.info("Client connected", "client_id", client.id, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	conn.Close()
	s.info("Client disconnected", "client_id", client.id)
}

func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// unblocks readPump
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.warn("Write error", "client_id", client.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and keeps the read deadline fresh on pong
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.warn("Read error", "client_id", client.id, "error", err)
			}
			return
		}
	}
}

func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) limiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	actual, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(s.rateLimit, s.rateBurst))
	return actual.(*rate.Limiter)
}

// remoteIP ignores X-Forwarded-For
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) info(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}

func (s *Server) warn(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}
