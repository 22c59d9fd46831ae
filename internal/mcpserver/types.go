package mcpserver

import (
	"os"
	"runtime"

	"github.com/inercia/dbgctl/internal/appdir"
	"github.com/inercia/dbgctl/internal/debugger"
)

// StateOutput is the session snapshot as reported to MCP clients.
type StateOutput struct {
	State          string   `json:"state" jsonschema:"session state: unloaded, started, loaded, running or stopped"`
	Status         string   `json:"status" jsonschema:"human readable status line"`
	Program        string   `json:"program,omitempty"`
	PID            int      `json:"pid,omitempty"`
	Thread         int      `json:"thread,omitempty"`
	Location       string   `json:"location,omitempty" jsonschema:"where the program is stopped"`
	Function       string   `json:"function,omitempty"`
	Busy           bool     `json:"busy" jsonschema:"a command is awaiting the backend"`
	Pending        int      `json:"pending" jsonschema:"commands queued behind the in-flight one"`
	EnabledActions []string `json:"enabled_actions"`
	ToggleLabel    string   `json:"toggle_label"`
	LastError      string   `json:"last_error,omitempty"`
}

func newStateOutput(snap debugger.Snapshot) StateOutput {
	out := StateOutput{
		State:       snap.State.String(),
		Status:      snap.StatusText,
		Program:     snap.Program,
		PID:         snap.PID,
		Thread:      snap.Thread,
		Busy:        snap.Busy,
		Pending:     snap.Pending,
		ToggleLabel: snap.Actions.ToggleLabel,
		LastError:   snap.LastError,
	}
	if snap.Location != nil {
		out.Location = snap.Location.String()
		out.Function = snap.Location.Function
	}
	a := snap.Actions
	for _, group := range []struct {
		name    string
		enabled bool
	}{
		{"start", a.Start},
		{"stop-debugger", a.StopDebugger},
		{"loaded", a.Loaded},
		{"stopped", a.Stopped},
		{"running", a.Running},
		{"toggle", a.Toggle},
	} {
		if group.enabled {
			out.EnabledActions = append(out.EnabledActions, group.name)
		}
	}
	if out.EnabledActions == nil {
		out.EnabledActions = []string{}
	}
	return out
}

// SubmitInput is the argument of debugger_submit.
type SubmitInput struct {
	Kind        string   `json:"kind" jsonschema:"command: start, load, attach, run, step-in, step-over, step-out, stepi-in, stepi-over, run-to, run-to-address, run-from, run-from-address, send-raw"`
	Program     string   `json:"program,omitempty" jsonschema:"program path for load"`
	Args        []string `json:"args,omitempty" jsonschema:"program arguments for load"`
	WorkDir     string   `json:"work_dir,omitempty" jsonschema:"working directory for load"`
	PID         int      `json:"pid,omitempty" jsonschema:"process id for attach"`
	Target      string   `json:"target,omitempty" jsonschema:"remote target for connect-remote"`
	File        string   `json:"file,omitempty" jsonschema:"source file for run-to and run-from"`
	Line        int      `json:"line,omitempty" jsonschema:"source line for run-to and run-from"`
	Address     string   `json:"address,omitempty" jsonschema:"code address such as 0x401000"`
	Text        string   `json:"text,omitempty" jsonschema:"raw backend text for send-raw"`
	WaitSeconds float64  `json:"wait_seconds,omitempty" jsonschema:"wait up to this long for the command to finish"`
}

func (in SubmitInput) request() debugger.Request {
	return debugger.Request{
		Kind:    in.Kind,
		Program: in.Program,
		Args:    in.Args,
		WorkDir: in.WorkDir,
		PID:     in.PID,
		Target:  in.Target,
		File:    in.File,
		Line:    in.Line,
		Address: in.Address,
		Text:    in.Text,
	}
}

// WaitInput is the argument of debugger_interrupt and debugger_quit.
type WaitInput struct {
	WaitSeconds float64 `json:"wait_seconds,omitempty" jsonschema:"wait up to this long for the command to finish"`
}

// CommandOutput describes a submitted command.
type CommandOutput struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Status  string `json:"status" jsonschema:"pending, in-flight, done or aborted"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newCommandOutput(h *debugger.Handle) CommandOutput {
	out := CommandOutput{
		ID:      h.ID(),
		Command: h.Command().String(),
		Status:  h.Status().String(),
	}
	if res, ok := h.Result(); ok {
		out.Output = res.Output
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
	}
	return out
}

// AbortOutput is the result of debugger_abort.
type AbortOutput struct {
	Aborted bool `json:"aborted"`
}

// RuntimeInfo describes the dbgctl process.
type RuntimeInfo struct {
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	PID          int    `json:"pid"`
	Hostname     string `json:"hostname,omitempty"`
	Executable   string `json:"executable,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
	DataDir      string `json:"data_dir,omitempty"`
	LogFile      string `json:"log_file,omitempty"`
	TrafficLog   string `json:"traffic_log,omitempty"`
}

func buildRuntimeInfo() *RuntimeInfo {
	info := &RuntimeInfo{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		PID:          os.Getpid(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if exe, err := os.Executable(); err == nil {
		info.Executable = exe
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDir = wd
	}
	if dataDir, err := appdir.Dir(); err == nil {
		info.DataDir = dataDir
	}
	if logFile, err := appdir.LogFilePath(); err == nil {
		info.LogFile = logFile
	}
	if traffic, err := appdir.TrafficLogPath(); err == nil {
		info.TrafficLog = traffic
	}
	return info
}
