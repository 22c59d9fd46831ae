// Package mcpserver exposes the debugger session as MCP tools. The HTTP
// transport binds only to loopback addresses.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/inercia/dbgctl/internal/debugger"
)

const (
	// DefaultPort is the default port for the HTTP transport.
	DefaultPort = 5757
	// ServerName is the MCP implementation name.
	ServerName = "dbgctl"
	// ServerVersion is the MCP implementation version.
	ServerVersion = "1.0.0"
	// MaxWait caps wait_seconds.
	MaxWait = 60 * time.Second
)

// TransportMode specifies the transport for the MCP server.
type TransportMode string

const (
	// TransportModeHTTP serves the streamable HTTP transport on 127.0.0.1.
	TransportModeHTTP TransportMode = "http"
	// TransportModeSTDIO speaks MCP on stdin/stdout.
	TransportModeSTDIO TransportMode = "stdio"
)

// Controller is the part of *debugger.Controller the tools use.
type Controller interface {
	Submit(cmd debugger.Command) *debugger.Handle
	AbortAll()
	Snapshot() debugger.Snapshot
}

// Config holds the configuration for the MCP server.
type Config struct {
	Host string
	// Port for the HTTP transport. -1 selects DefaultPort, 0 a free port.
	Port int
	// Mode defaults to TransportModeHTTP.
	Mode TransportMode
}

// Server is the MCP server.
type Server struct {
	mcpServer *mcp.Server
	ctrl      Controller
	logger    *slog.Logger
	host      string
	port      int
	mode      TransportMode
	listener  net.Listener
	httpSrv   *http.Server

	stdioSession *mcp.ServerSession
	stdioDone    chan struct{}

	mu       sync.RWMutex
	running  bool
	shutdown bool
}

// NewServer creates a server driving ctrl.
func NewServer(cfg Config, ctrl Controller, logger *slog.Logger) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("mcpserver: controller is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port < 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Mode == "" {
		cfg.Mode = TransportModeHTTP
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	s := &Server{
		ctrl:   ctrl,
		logger: logger,
		host:   cfg.Host,
		port:   cfg.Port,
		mode:   cfg.Mode,
	}
	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)
	s.registerTools(mcpSrv)
	s.mcpServer = mcpSrv
	return s, nil
}

// Start starts serving. It does not block; use Wait for the stdio mode.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	switch s.mode {
	case TransportModeSTDIO:
		return s.startSTDIO(ctx)
	case TransportModeHTTP:
		return s.startHTTP()
	default:
		return fmt.Errorf("unknown transport mode: %s", s.mode)
	}
}

func (s *Server) startHTTP() error {
	if ip := net.ParseIP(s.host); s.host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("refusing to serve MCP on non-loopback address %s", s.host)
	}
	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.Handle("/", handler)

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("MCP server started", "mode", "http", "address", listener.Addr().String())

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) startSTDIO(ctx context.Context) error {
	return s.serveTransport(ctx, &mcp.StdioTransport{})
}

// serveTransport runs one session on t in the background.
func (s *Server) serveTransport(ctx context.Context, t mcp.Transport) error {
	s.mu.Lock()
	s.running = true
	s.stdioDone = make(chan struct{})
	done := s.stdioDone
	s.mu.Unlock()

	session, err := s.mcpServer.Connect(ctx, t, nil)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
		return fmt.Errorf("connect MCP transport: %w", err)
	}
	s.mu.Lock()
	s.stdioSession = session
	s.mu.Unlock()
	s.logger.Info("MCP server started", "mode", s.mode)

	go func() {
		defer close(done)
		if err := session.Wait(); err != nil {
			s.logger.Debug("MCP session ended", "error", err)
		}
		s.mu.Lock()
		s.running = false
		s.stdioSession = nil
		s.mu.Unlock()
		s.logger.Info("MCP server stopped", "mode", s.mode)
	}()
	return nil
}

// Wait blocks until a stdio session ends. It returns at once in HTTP mode.
func (s *Server) Wait() error {
	s.mu.RLock()
	done := s.stdioDone
	s.mu.RUnlock()
	if done != nil {
		<-done
	}
	return nil
}

// Stop stops the server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.shutdown {
		return nil
	}
	s.shutdown = true
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("Error shutting down MCP HTTP server", "error", err)
		}
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.stdioSession != nil {
		if err := s.stdioSession.Close(); err != nil {
			s.logger.Warn("Error closing MCP session", "error", err)
		}
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// Port returns the bound HTTP port, or 0 in stdio mode.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode == TransportModeSTDIO {
		return 0
	}
	return s.port
}

func (s *Server) Mode() TransportMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && !s.shutdown
}
