package mcpserver

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/inercia/dbgctl/internal/debugger"
)

func (s *Server) registerTools(mcpSrv *mcp.Server) {
	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "debugger_state",
		Description: "Get the debugger session state, status line, stop location, queue depth and which action groups are enabled",
	}, s.handleState)

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "debugger_submit",
		Description: "Queue a debugger command. Commands run one at a time in submission order; execution commands submitted while the program runs wait for it to stop",
	}, s.handleSubmit)

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "debugger_interrupt",
		Description: "Pause the running program, ahead of any queued command",
	}, s.handleInterrupt)

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "debugger_quit",
		Description: "Stop the debugger, dropping every queued command",
	}, s.handleQuit)

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "debugger_abort",
		Description: "Drop every queued command and forget the one in flight",
	}, s.handleAbort)

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "get_runtime_info",
		Description: "Get runtime information including OS, architecture, data directory and log file paths",
	}, s.handleRuntimeInfo)
}

func (s *Server) handleState(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, StateOutput, error) {
	return nil, newStateOutput(s.ctrl.Snapshot()), nil
}

func (s *Server) handleSubmit(ctx context.Context, req *mcp.CallToolRequest, input SubmitInput) (*mcp.CallToolResult, CommandOutput, error) {
	cmd, err := input.request().Command()
	if err != nil {
		return nil, CommandOutput{}, err
	}
	return s.submit(ctx, cmd, input.WaitSeconds)
}

func (s *Server) handleInterrupt(ctx context.Context, req *mcp.CallToolRequest, input WaitInput) (*mcp.CallToolResult, CommandOutput, error) {
	return s.submit(ctx, debugger.Interrupt(), input.WaitSeconds)
}

func (s *Server) handleQuit(ctx context.Context, req *mcp.CallToolRequest, input WaitInput) (*mcp.CallToolResult, CommandOutput, error) {
	return s.submit(ctx, debugger.Quit(), input.WaitSeconds)
}

func (s *Server) handleAbort(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, AbortOutput, error) {
	s.ctrl.AbortAll()
	return nil, AbortOutput{Aborted: true}, nil
}

func (s *Server) handleRuntimeInfo(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, RuntimeInfo, error) {
	return nil, *buildRuntimeInfo(), nil
}

// submit queues cmd and optionally waits for it. A command that fails is
// still a successful tool call; the failure is in the output.
func (s *Server) submit(ctx context.Context, cmd debugger.Command, waitSeconds float64) (*mcp.CallToolResult, CommandOutput, error) {
	h := s.ctrl.Submit(cmd)
	s.logger.Debug("Command submitted over MCP", "command", cmd.String(), "handle", h.ID())

	if waitSeconds > 0 {
		wait := min(time.Duration(waitSeconds*float64(time.Second)), MaxWait)
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		if _, err := h.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, CommandOutput{}, err
		}
	}
	return nil, newCommandOutput(h), nil
}
