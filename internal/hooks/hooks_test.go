package hooks

import (
	"bytes"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/inercia/dbgctl/internal/config"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	t.Cleanup(func() { Output = prev })
	return &buf
}

func waitExited(t *testing.T, hp *Process) {
	t.Helper()
	select {
	case <-hp.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("hook did not exit")
	}
}

func TestExpand(t *testing.T) {
	got := Expand("open http://127.0.0.1:${PORT}/ && echo ${PORT}", 8765)
	if got != "open http://127.0.0.1:8765/ && echo 8765" {
		t.Errorf("Expand() = %q", got)
	}
}

func TestProcess_StopNil(t *testing.T) {
	var hp *Process
	hp.Stop()
}

func TestProcess_StopAlreadyDone(t *testing.T) {
	hp := &Process{name: "test", done: true}
	hp.Stop()
}

func TestProcess_StopRunningProcess(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	hp := &Process{name: "sleep", cmd: cmd}
	hp.Stop()
	if !hp.done {
		t.Error("done should be true after Stop")
	}
	_ = cmd.Wait()
}

func TestProcess_ConcurrentStop(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	hp := &Process{name: "concurrent", cmd: cmd}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hp.Stop()
		}()
	}
	wg.Wait()
	if !hp.done {
		t.Error("done should be true after concurrent Stop calls")
	}
	_ = cmd.Wait()
}

func TestStartUp_Completes(t *testing.T) {
	captureOutput(t)
	for _, command := range []string{"exit 0", "exit 1", "nonexistent-command-12345"} {
		hp := StartUp(config.Hook{Name: "t", Command: command}, 8080)
		if hp == nil {
			t.Fatalf("StartUp(%q) returned nil", command)
		}
		waitExited(t, hp)
		hp.mu.Lock()
		done := hp.done
		hp.mu.Unlock()
		if !done {
			t.Errorf("%q: done = false after exit", command)
		}
	}
}

func TestStartUp_StopTerminatesLongRunning(t *testing.T) {
	captureOutput(t)
	hp := StartUp(config.Hook{Command: "sleep 30"}, 8080)
	if hp == nil {
		t.Fatal("StartUp returned nil")
	}
	hp.Stop()
	waitExited(t, hp)
}

func TestStartUp_EmptyCommand(t *testing.T) {
	if hp := StartUp(config.Hook{Name: "empty"}, 8080); hp != nil {
		t.Error("StartUp should return nil for an empty command")
	}
}

func TestRunDown(t *testing.T) {
	buf := captureOutput(t)
	if err := RunDown(config.Hook{Command: "echo PORT=${PORT}"}, 12345); err != nil {
		t.Fatalf("RunDown: %v", err)
	}
	if got := buf.String(); got != "PORT=12345\n" {
		t.Errorf("output = %q", got)
	}
	if err := RunDown(config.Hook{Command: "exit 3"}, 1); err == nil || exitCode(err) != 3 {
		t.Errorf("RunDown(exit 3) = %v", err)
	}
	if err := RunDown(config.Hook{}, 1); err != nil {
		t.Errorf("empty hook: %v", err)
	}
}
