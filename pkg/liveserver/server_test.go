package liveserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts Options) (*Hub, *Server, string) {
	t.Helper()
	hub, _ := runHub(t)
	srv := NewServer(hub, nil, opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return hub, srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(url, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestServer_StreamsBroadcasts(t *testing.T) {
	hub, srv, url := startServer(t, Options{AllowedOrigins: []string{"http://localhost:3000"}})

	conn, _, err := dial(url, "http://localhost:3000")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewMessage(TypeStateChanged, map[string]string{"to": "running"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeStateChanged, msg.Type)
	assert.Equal(t, map[string]interface{}{"to": "running"}, msg.Data)

	conn.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_OriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		origin  string
		allowed bool
	}{
		{"exact match", Options{AllowedOrigins: []string{"https://dash.example.com"}}, "https://dash.example.com", true},
		{"path ignored", Options{AllowedOrigins: []string{"https://dash.example.com"}}, "https://dash.example.com/app", true},
		{"other host", Options{AllowedOrigins: []string{"https://dash.example.com"}}, "https://evil.example.com", false},
		{"missing origin", Options{AllowedOrigins: []string{"*"}}, "", false},
		{"wildcard dev", Options{AllowedOrigins: []string{"*"}}, "http://anything", true},
		{"wildcard production", Options{AllowedOrigins: []string{"*"}, Production: true}, "http://anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(NewHub(nil), nil, tt.opts)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allowed, srv.checkOrigin(req))
		})
	}
}

func TestServer_ConnectionLimit(t *testing.T) {
	_, srv, url := startServer(t, Options{AllowedOrigins: []string{"*"}, MaxConnections: 1, RateBurst: 10})

	first, _, err := dial(url, "http://localhost")
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	second, resp, err := dial(url, "http://localhost")
	require.Error(t, err)
	if second != nil {
		second.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_RateLimitPerIP(t *testing.T) {
	_, _, url := startServer(t, Options{AllowedOrigins: []string{"*"}, RatePerSecond: 0.001, RateBurst: 1})

	first, _, err := dial(url, "http://localhost")
	require.NoError(t, err)
	defer first.Close()

	second, resp, err := dial(url, "http://localhost")
	require.Error(t, err)
	if second != nil {
		second.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", remoteIP(req))

	req.RemoteAddr = "garbage"
	assert.Equal(t, "garbage", remoteIP(req))
}
