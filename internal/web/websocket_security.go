package web

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig holds limits for event stream connections.
type WebSocketConfig struct {
	// AllowedOrigins lists extra origins. Empty means same-origin only and
	// "*" allows every origin.
	AllowedOrigins []string
	// MaxMessageSize bounds messages read from clients.
	MaxMessageSize int64
	// MaxConnectionsPerIP bounds concurrent streams per client IP.
	MaxConnectionsPerIP int
	// SendBuffer is the number of queued messages per client. A client
	// that falls this far behind is dropped.
	SendBuffer int
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// DefaultWebSocketConfig returns the defaults used by dbgctl serve.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		MaxMessageSize:      64 * 1024,
		MaxConnectionsPerIP: 10,
		SendBuffer:          256,
		PongWait:            60 * time.Second,
		PingPeriod:          54 * time.Second,
		WriteWait:           10 * time.Second,
	}
}

// ConnectionTracker counts connections per IP.
type ConnectionTracker struct {
	mu          sync.Mutex
	connections map[string]int
	maxPerIP    int
}

func NewConnectionTracker(maxPerIP int) *ConnectionTracker {
	return &ConnectionTracker{connections: make(map[string]int), maxPerIP: maxPerIP}
}

// TryAdd reserves a slot for ip. It reports false when the limit is reached.
func (ct *ConnectionTracker) TryAdd(ip string) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	current := ct.connections[ip]
	if current >= ct.maxPerIP {
		return false
	}
	ct.connections[ip] = current + 1
	return true
}

// Remove releases a slot for ip.
func (ct *ConnectionTracker) Remove(ip string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	current := ct.connections[ip]
	if current <= 1 {
		delete(ct.connections, ip)
	} else {
		ct.connections[ip] = current - 1
	}
}

func (ct *ConnectionTracker) Count(ip string) int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.connections[ip]
}

func newUpgrader(config WebSocketConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}
}

func configureConn(conn *websocket.Conn, config WebSocketConfig) {
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowed := make(map[string]bool)
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
		allowed[strings.ToLower(origin)] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no origin.
		if origin == "" || allowAll {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if allowed[strings.ToLower(origin)] || allowed[strings.ToLower(originURL.Host)] {
			return true
		}
		return isSameOrigin(r, originURL)
	}
}

// isSameOrigin compares host and port of the origin with the request.
func isSameOrigin(r *http.Request, originURL *url.URL) bool {
	requestHostname, requestPort, err := net.SplitHostPort(r.Host)
	if err != nil {
		requestHostname, requestPort = r.Host, ""
	}
	originHostname, originPort, err := net.SplitHostPort(originURL.Host)
	if err != nil {
		originHostname, originPort = originURL.Host, ""
	}
	if !strings.EqualFold(requestHostname, originHostname) {
		return false
	}
	if originPort == "" {
		switch originURL.Scheme {
		case "https", "wss":
			originPort = "443"
		case "http", "ws":
			originPort = "80"
		}
	}
	if requestPort == "" {
		return true
	}
	return requestPort == originPort
}
