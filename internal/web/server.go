// Package web serves the debugger session over HTTP and WebSocket.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inercia/dbgctl/internal/debugger"
	"github.com/inercia/dbgctl/internal/trafficlog"
)

// Controller is the part of *debugger.Controller the server uses.
type Controller interface {
	Submit(cmd debugger.Command) *debugger.Handle
	AbortAll()
	ChangeLocation(loc debugger.Location)
	Snapshot() debugger.Snapshot
	Subscribe(sub debugger.Subscriber, kinds ...debugger.EventKind) *debugger.Subscription
	Unsubscribe(s *debugger.Subscription)
}

// Config holds the web server configuration.
type Config struct {
	Host string
	Port int
	// MaxWait caps the ?wait= duration of command submissions.
	MaxWait         time.Duration
	RateLimit       RateLimitConfig
	WebSocket       WebSocketConfig
	HandleRetention int
}

// DefaultMaxWait is used when Config.MaxWait is not set.
const DefaultMaxWait = 30 * time.Second

// Server exposes one controller.
type Server struct {
	config  Config
	ctrl    Controller
	traffic *trafficlog.RingSink
	logger  *slog.Logger

	handles     *handleRegistry
	rateLimiter *RateLimiter
	tracker     *ConnectionTracker
	upgrader    websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	shutdown   bool

	// ctx ends event streams on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server for ctrl. traffic may be nil, in which case
// the traffic endpoint reports 404.
func NewServer(config Config, ctrl Controller, traffic *trafficlog.RingSink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWait
	}
	def := DefaultWebSocketConfig()
	if config.WebSocket.PongWait <= 0 {
		config.WebSocket.PongWait = def.PongWait
	}
	if config.WebSocket.PingPeriod <= 0 {
		config.WebSocket.PingPeriod = def.PingPeriod
	}
	if config.WebSocket.WriteWait <= 0 {
		config.WebSocket.WriteWait = def.WriteWait
	}
	if config.WebSocket.SendBuffer <= 0 {
		config.WebSocket.SendBuffer = def.SendBuffer
	}
	if config.WebSocket.MaxConnectionsPerIP <= 0 {
		config.WebSocket.MaxConnectionsPerIP = def.MaxConnectionsPerIP
	}
	if config.WebSocket.MaxMessageSize <= 0 {
		config.WebSocket.MaxMessageSize = def.MaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:      config,
		ctrl:        ctrl,
		traffic:     traffic,
		logger:      logger,
		handles:     newHandleRegistry(config.HandleRetention),
		rateLimiter: NewRateLimiter(config.RateLimit),
		tracker:     NewConnectionTracker(config.WebSocket.MaxConnectionsPerIP),
		upgrader:    newUpgrader(config.WebSocket),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	limited := func(h http.HandlerFunc) http.Handler { return s.rateLimiter.Middleware(h) }

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/commands/{id}", s.handleGetCommand)
	mux.HandleFunc("GET /api/traffic", s.handleTraffic)
	mux.HandleFunc("GET /api/events", s.handleEventsWS)

	mux.Handle("POST /api/commands", limited(s.handleSubmit))
	mux.Handle("POST /api/interrupt", limited(s.handleInterrupt))
	mux.Handle("POST /api/abort", limited(s.handleAbort))
	mux.Handle("POST /api/quit", limited(s.handleQuit))
	mux.Handle("POST /api/location", limited(s.handleLocation))

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", clientIP(r),
			"duration", time.Since(start))
	})
}

// Serve listens on the configured loopback address and blocks until the
// server is shut down. ready, if not nil, receives the bound address.
func (s *Server) Serve(ready func(addr string)) error {
	listener, port, err := CreateLocalhostListener(s.config.Host, s.config.Port, s.logger)
	if err != nil {
		return err
	}
	return s.serveListener(listener, port, ready)
}

func (s *Server) serveListener(listener net.Listener, port int, ready func(addr string)) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		listener.Close()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	host := s.config.Host
	if host == "" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	s.logger.Info("Web server listening", "addr", addr)
	if ready != nil {
		ready(addr)
	}

	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, ends event streams and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	srv := s.httpServer
	s.mu.Unlock()

	s.cancel()
	s.rateLimiter.Close()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
