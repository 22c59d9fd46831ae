package dap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/shlex"

	"github.com/inercia/dbgctl/internal/config"
	"github.com/inercia/dbgctl/internal/runner"
)

// Connector opens a fresh transport to a debug adapter.
type Connector func(ctx context.Context) (Transport, error)

// SplitCommand parses a shell-style adapter command line.
func SplitCommand(command string) (string, []string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return "", nil, fmt.Errorf("parse adapter command: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("empty adapter command")
	}
	return args[0], args[1:], nil
}

// ProcessConnector starts the backend's adapter command through r for every
// session. The process lives until the transport is closed.
func ProcessConnector(b config.Backend, r *runner.Runner, logger *slog.Logger) Connector {
	return func(ctx context.Context) (Transport, error) {
		name, args, err := SplitCommand(b.Command)
		if err != nil {
			return nil, err
		}
		// The adapter outlives the request that started it.
		procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stdin, stdout, stderr, wait, err := r.RunWithPipes(procCtx, name, args, b.Env)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("start adapter %q: %w", name, err)
		}
		logger.Debug("Adapter process started", "command", name, "args", args, "runner", r.Type(), "restricted", r.IsRestricted())
		return NewProcessTransport(stdin, stdout, stderr, wait, cancel, logger), nil
	}
}

// SocketConnector dials an adapter already listening on address.
func SocketConnector(address string) Connector {
	return func(ctx context.Context) (Transport, error) {
		return DialSocket(ctx, address)
	}
}

// ConnectorFor picks the connector for b: a socket when Address is set,
// otherwise a process started by the runner.
func ConnectorFor(b config.Backend, global *config.RunnerConfig, workDir string, logger *slog.Logger) (Connector, error) {
	if b.Address != "" {
		return SocketConnector(b.Address), nil
	}
	if b.Command == "" {
		return nil, fmt.Errorf("backend %q has neither command nor address", b.Name)
	}
	r, err := runner.New(global, b.Runner, workDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create runner for backend %q: %w", b.Name, err)
	}
	if !r.IsRestricted() {
		logger.Debug("Adapter runs without a sandbox", "backend", b.Name, "runner", r.Type())
	}
	if r.FallbackInfo != nil {
		logger.Warn("Runner fell back",
			"requested", r.FallbackInfo.RequestedType,
			"using", r.FallbackInfo.FallbackType,
			"reason", r.FallbackInfo.Reason)
	}
	return ProcessConnector(b, r, logger), nil
}
