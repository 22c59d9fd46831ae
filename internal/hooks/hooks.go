// Package hooks runs the web server lifecycle commands and coordinates
// process shutdown.
package hooks

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/inercia/dbgctl/internal/config"
	"github.com/inercia/dbgctl/internal/logging"
)

// Output receives the stdout and stderr of hook commands.
var Output io.Writer = os.Stderr

// Expand replaces ${PORT} in command with port.
func Expand(command string, port int) string {
	return strings.ReplaceAll(command, "${PORT}", strconv.Itoa(port))
}

func hookName(h config.Hook, fallback string) string {
	if h.Name == "" {
		return fallback
	}
	return h.Name
}

// Process is a running up hook. It is safe for concurrent use.
type Process struct {
	name string
	cmd  *exec.Cmd
	mu   sync.Mutex
	done bool
	exit chan struct{}
}

// StartUp starts the up hook in its own process group and returns
// immediately. It returns nil when the hook is empty or fails to start.
func StartUp(hook config.Hook, port int) *Process {
	if hook.Command == "" {
		return nil
	}
	logger := logging.Hook()
	name := hookName(hook, "up")
	command := Expand(hook.Command, port)

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = Output
	cmd.Stderr = Output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logger.Error("Failed to start up hook", "name", name, "error", err)
		return nil
	}
	logger.Info("Up hook started", "name", name, "command", command, "pid", cmd.Process.Pid)

	hp := &Process{name: name, cmd: cmd, exit: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		hp.mu.Lock()
		stopped := hp.done
		hp.done = true
		hp.mu.Unlock()
		close(hp.exit)

		switch {
		case err == nil:
			logger.Info("Up hook completed", "name", name)
		case stopped:
			logger.Debug("Up hook terminated", "name", name)
		default:
			logger.Error("Up hook exited with error", "name", name, "exit_code", exitCode(err), "error", err)
		}
	}()
	return hp
}

// Exited is closed once the hook process has been reaped.
func (hp *Process) Exited() <-chan struct{} {
	return hp.exit
}

// Stop sends SIGTERM to the hook's process group, falling back to
// killing the process alone. Safe on a nil Process.
func (hp *Process) Stop() {
	if hp == nil {
		return
	}
	hp.mu.Lock()
	defer hp.mu.Unlock()
	if hp.done || hp.cmd == nil || hp.cmd.Process == nil {
		return
	}

	if pgid, err := syscall.Getpgid(hp.cmd.Process.Pid); err == nil {
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	} else {
		_ = hp.cmd.Process.Kill()
	}
	logging.Hook().Info("Stopped up hook", "name", hp.name)
	hp.done = true
}

// RunDown runs the down hook and waits for it. An empty hook is a no-op.
func RunDown(hook config.Hook, port int) error {
	if hook.Command == "" {
		return nil
	}
	logger := logging.Hook()
	name := hookName(hook, "down")
	command := Expand(hook.Command, port)
	logger.Info("Running down hook", "name", name, "command", command)

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = Output
	cmd.Stderr = Output
	if err := cmd.Run(); err != nil {
		logger.Error("Down hook failed", "name", name, "exit_code", exitCode(err), "error", err)
		return err
	}
	logger.Info("Down hook completed", "name", name)
	return nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
