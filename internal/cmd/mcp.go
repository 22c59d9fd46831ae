package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inercia/dbgctl/internal/logging"
	"github.com/inercia/dbgctl/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the debugger tools over MCP on stdio",
	Long: `Run an MCP server on stdin/stdout exposing the debugger session as tools
(debugger_state, debugger_submit, debugger_interrupt, debugger_quit, ...).

Logs go to stderr so they never mix with the protocol stream.

Example agent configuration:
  {"command": "dbgctl", "args": ["mcp", "--backend", "delve"]}`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// stdioLogger keeps server lifecycle records out of the agent's stderr
// unless debug logging is on.
func stdioLogger(base *slog.Logger) *slog.Logger {
	return logging.DowngradeInfoToDebug(base)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sess, err := newDebugSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	srv, err := mcpserver.NewServer(mcpserver.Config{Mode: mcpserver.TransportModeSTDIO}, sess.ctrl, stdioLogger(logging.MCP()))
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = srv.Stop()
	}()
	return srv.Wait()
}
