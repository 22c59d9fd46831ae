package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/inercia/dbgctl/internal/hooks"
	"github.com/inercia/dbgctl/internal/logging"
	"github.com/inercia/dbgctl/internal/mcpserver"
	"github.com/inercia/dbgctl/internal/web"
)

var (
	serveHost    string
	servePort    int
	serveMCPPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the debugger session over HTTP",
	Long: `Start the HTTP API and WebSocket event stream for one debugger session.

The server only listens on loopback addresses. With --mcp-port (or mcp.port
in the configuration) the MCP tools are served over streamable HTTP as well.

Examples:
  dbgctl serve                     # 127.0.0.1:8765
  dbgctl serve --port 0            # pick a free port
  dbgctl serve --mcp-port 5757     # also serve MCP`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Loopback address to listen on (default from config, 127.0.0.1)")
	serveCmd.Flags().IntVar(&servePort, "port", -1, "Port to listen on, 0 for a free port (default from config, 8765)")
	serveCmd.Flags().IntVar(&serveMCPPort, "mcp-port", -1, "Also serve MCP over HTTP on this port, 0 for a free port")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.Web()

	sess, err := newDebugSession()
	if err != nil {
		return err
	}

	webCfg := web.Config{
		Host: cfg.Web.Host,
		Port: cfg.Web.Port,
		RateLimit: web.RateLimitConfig{
			RequestsPerSecond: cfg.Web.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Web.RateLimit.Burst,
			CleanupInterval:   web.DefaultRateLimitConfig().CleanupInterval,
			EntryTTL:          web.DefaultRateLimitConfig().EntryTTL,
		},
	}
	if serveHost != "" {
		webCfg.Host = serveHost
	}
	if servePort >= 0 {
		webCfg.Port = servePort
	}
	srv := web.NewServer(webCfg, sess.ctrl, sess.ring, logger)

	sm := hooks.NewShutdownManager()
	sm.AddCleanup(func(reason string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Web server shutdown failed", "error", err)
		}
	})

	mcpPort := cfg.MCP.Port
	if serveMCPPort >= 0 {
		mcpPort = serveMCPPort
	}
	if serveMCPPort >= 0 || cfg.MCP.Port > 0 {
		mcpSrv, err := mcpserver.NewServer(mcpserver.Config{
			Host: cfg.MCP.Host,
			Port: mcpPort,
			Mode: mcpserver.TransportModeHTTP,
		}, sess.ctrl, logging.MCP())
		if err != nil {
			sess.Close()
			return err
		}
		if err := mcpSrv.Start(cmd.Context()); err != nil {
			sess.Close()
			return fmt.Errorf("failed to start MCP server: %w", err)
		}
		fmt.Printf("MCP endpoint: http://%s/mcp\n", net.JoinHostPort(cfg.MCP.Host, strconv.Itoa(mcpSrv.Port())))
		sm.AddCleanup(func(string) {
			if err := mcpSrv.Stop(); err != nil {
				logging.MCP().Warn("MCP server stop failed", "error", err)
			}
		})
	}
	sm.AddCleanup(func(string) { sess.Close() })
	sm.Start()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(func(addr string) {
			_, portStr, _ := net.SplitHostPort(addr)
			port, _ := strconv.Atoi(portStr)
			fmt.Printf("dbgctl serving %s on http://%s/\n", sess.backend.Name, addr)
			sm.SetHooks(hooks.StartUp(cfg.Web.Hooks.Up, port), cfg.Web.Hooks.Down, port)
		})
	}()

	select {
	case err := <-serveErr:
		sm.Shutdown("server-exit")
		return err
	case <-sm.Done():
		return <-serveErr
	}
}
