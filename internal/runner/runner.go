// Package runner starts debug adapter processes, optionally inside a
// sandbox provided by go-restricted-runner.
//
// By default adapters run unrestricted (exec runner). A global runner and
// per-backend runners can be configured; see config.RunnerConfig.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/inercia/go-restricted-runner/pkg/common"
	grrunner "github.com/inercia/go-restricted-runner/pkg/runner"

	"github.com/inercia/dbgctl/internal/config"
)

// Runner wraps go-restricted-runner for adapter execution.
type Runner struct {
	runner grrunner.Runner
	config *ResolvedConfig
	logger *slog.Logger
	// FallbackInfo is set when the requested runner was unavailable.
	FallbackInfo *FallbackInfo
}

// FallbackInfo describes a fallback to the exec runner.
type FallbackInfo struct {
	RequestedType string
	FallbackType  string
	Reason        string
}

// ResolvedConfig is the effective runner configuration.
type ResolvedConfig struct {
	Type         string
	Restrictions *config.RunnerRestrictions
}

// New creates a runner from the global configuration overlaid with the
// backend's own. Both may be nil. workDir is substituted for $PWD in folder
// restrictions.
func New(global, backend *config.RunnerConfig, workDir string, logger *slog.Logger) (*Runner, error) {
	resolved := resolveConfig(global, backend)
	resolved.Restrictions = resolveVariables(resolved.Restrictions, NewVariableResolver(workDir))

	runnerLogger, err := common.NewLogger("", "", common.LogLevelInfo, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner logger: %w", err)
	}

	r, err := grrunner.New(toRunnerType(resolved.Type), toRunnerOptions(resolved.Restrictions), runnerLogger)
	if err == nil {
		err = r.CheckImplicitRequirements()
	}

	var fallback *FallbackInfo
	if err != nil {
		if logger != nil {
			logger.Warn("Restricted runner not available, falling back to exec",
				"requested_type", resolved.Type,
				"error", err.Error())
		}
		fallback = &FallbackInfo{
			RequestedType: resolved.Type,
			FallbackType:  "exec",
			Reason:        err.Error(),
		}
		r, err = grrunner.New(grrunner.TypeExec, grrunner.Options{}, runnerLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback exec runner: %w", err)
		}
		resolved.Type = "exec"
	}

	if logger != nil {
		logger.Debug("Created adapter runner", "type", resolved.Type, "fallback", fallback != nil)
	}

	return &Runner{runner: r, config: resolved, logger: logger, FallbackInfo: fallback}, nil
}

// RunWithPipes starts command and returns its standard streams. The caller
// must close stdin when done and call wait to release the process.
// Cancelling ctx kills the process.
func (r *Runner) RunWithPipes(
	ctx context.Context,
	command string,
	args []string,
	env []string,
) (stdin io.WriteCloser, stdout io.ReadCloser, stderr io.ReadCloser, wait func() error, err error) {
	return r.runner.RunWithPipes(ctx, command, args, env, nil)
}

// Type returns the runner type in use.
func (r *Runner) Type() string { return r.config.Type }

// IsRestricted reports whether a sandbox is applied.
func (r *Runner) IsRestricted() bool { return r.config.Type != "exec" }
