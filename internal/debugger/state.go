package debugger

import (
	"fmt"
	"syscall"
)

// State is the phase of a debugging session.
type State int

const (
	// Unloaded means no backend is running.
	Unloaded State = iota
	// Started means the backend is up but no program is loaded.
	Started
	// Loaded means a program is loaded and not executing.
	Loaded
	// Running means the program is executing.
	Running
	// Stopped means the program is paused at a known location.
	Stopped
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Started:
		return "started"
	case Loaded:
		return "loaded"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Location is where the program is stopped. File and Line are empty when the
// backend only knows an address.
type Location struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Address  uint64 `json:"address,omitempty"`
	Function string `json:"function,omitempty"`
}

func (l Location) String() string {
	switch {
	case l.File != "":
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	case l.Address != 0:
		return fmt.Sprintf("%#x", l.Address)
	case l.Function != "":
		return l.Function
	}
	return "<unknown>"
}

// Signal describes a signal delivered to the program.
type Signal struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IsInterrupt reports whether the signal is the user's own interrupt request,
// which views show as a plain stop rather than a warning.
func (s Signal) IsInterrupt() bool {
	return s.Name == "SIGINT" || s.Name == syscall.SIGINT.String()
}

var acceptedIn = map[Kind][]State{
	KindStart:               {Unloaded},
	KindLoad:                {Started},
	KindAttach:              {Started},
	KindConnectRemote:       {Started},
	KindRun:                 {Loaded, Stopped},
	KindStepIn:              {Stopped},
	KindStepOver:            {Stopped},
	KindStepOut:             {Stopped},
	KindStepInstructionIn:   {Stopped},
	KindStepInstructionOver: {Stopped},
	KindRunTo:               {Stopped},
	KindRunToAddress:        {Stopped},
	KindRunFrom:             {Stopped},
	KindRunFromAddress:      {Stopped},
	KindInterrupt:           {Running},
	KindSendRaw:             {Loaded, Running, Stopped},
	KindQuit:                {Started, Loaded, Running, Stopped},
}

// CanAccept reports whether a command of kind k may be dispatched in state s.
func CanAccept(s State, k Kind) bool {
	for _, st := range acceptedIn[k] {
		if st == s {
			return true
		}
	}
	return false
}

// waitsForStop reports whether k, illegal now, becomes legal once a running
// program stops. The queue holds such commands instead of failing them.
func waitsForStop(s State, k Kind) bool {
	return s == Running && !CanAccept(s, k) && CanAccept(Stopped, k)
}

// machine holds the session state and computes the notifications for each
// transition. It is only touched by the controller goroutine.
type machine struct {
	state    State
	location *Location
	program  string
	pid      int
	thread   int

	// resumed is set when a stop arrived while an execution command was in
	// flight, so the command's own success must not move to Running again.
	resumed bool
}

func (m *machine) event(kind EventKind) Event {
	ev := Event{Kind: kind, State: m.state, Program: m.program, PID: m.pid, Thread: m.thread}
	if m.location != nil {
		loc := *m.location
		ev.Location = &loc
	}
	return ev
}

func (m *machine) set(s State) State {
	prev := m.state
	m.state = s
	return prev
}

// commandSucceeded applies the transition caused by a successful command.
func (m *machine) commandSucceeded(cmd Command) []Event {
	switch {
	case cmd.Kind == KindStart && m.state == Unloaded:
		m.set(Started)
		return []Event{m.event(EventDebuggerStarted)}

	case (cmd.Kind == KindLoad || cmd.Kind == KindAttach || cmd.Kind == KindConnectRemote) && m.state == Started:
		m.set(Loaded)
		switch cmd.Kind {
		case KindLoad:
			m.program = cmd.Program
		case KindAttach:
			m.pid = cmd.PID
		case KindConnectRemote:
			m.program = cmd.Target
		}
		return []Event{m.event(EventProgramLoaded)}

	case cmd.Kind.IsExecution():
		if m.resumed {
			m.resumed = false
			return nil
		}
		if m.state == Loaded || m.state == Stopped {
			return m.toRunning()
		}
	}
	return nil
}

// execSettled forgets an early stop once the execution command that caused
// it failed or was abandoned.
func (m *machine) execSettled() { m.resumed = false }

func (m *machine) toRunning() []Event {
	m.set(Running)
	m.location = nil
	return []Event{m.event(EventProgramRunning)}
}

// stopped applies a stop report. execInFlight tells whether an execution
// command is awaiting its resolution.
func (m *machine) stopped(ev BackendEvent, execInFlight bool) []Event {
	var out []Event

	switch m.state {
	case Stopped:
		if execInFlight {
			out = append(out, m.toRunning()...)
			m.resumed = true
		} else {
			if ev.Thread != 0 {
				m.thread = ev.Thread
			}
			if ev.Location != nil && (m.location == nil || *m.location != *ev.Location) {
				loc := *ev.Location
				m.location = &loc
				out = append(out, m.event(EventProgramMoved))
			}
			if ev.Signal != nil {
				out = append(out, m.signalEvent(*ev.Signal))
			}
			return out
		}
	case Loaded:
		if execInFlight {
			out = append(out, m.toRunning()...)
			m.resumed = true
		}
	case Running:
	default:
		return nil
	}

	m.set(Stopped)
	if ev.Thread != 0 {
		m.thread = ev.Thread
	}
	if ev.PID != 0 {
		m.pid = ev.PID
	}
	m.location = nil
	if ev.Location != nil {
		loc := *ev.Location
		m.location = &loc
	}

	stop := m.event(EventProgramStopped)
	stop.Reason = ev.Reason
	out = append(out, stop)
	if m.location != nil {
		out = append(out, m.event(EventProgramMoved))
	}
	if ev.Signal != nil {
		out = append(out, m.signalEvent(*ev.Signal))
	}
	return out
}

func (m *machine) signalEvent(sig Signal) Event {
	ev := m.event(EventSignalReceived)
	ev.Signal = &sig
	return ev
}

// signal applies an unsolicited signal report.
func (m *machine) signal(ev BackendEvent) []Event {
	switch m.state {
	case Running:
		ev.Reason = "signal"
		return m.stopped(ev, false)
	case Stopped:
		if ev.Signal != nil {
			return []Event{m.signalEvent(*ev.Signal)}
		}
	}
	return nil
}

// running applies an unsolicited resume report.
func (m *machine) running() []Event {
	if m.state == Stopped {
		return m.toRunning()
	}
	return nil
}

// exited applies a program exit. An exit while already Loaded is a no-op.
func (m *machine) exited(code int) []Event {
	switch m.state {
	case Running, Stopped:
	default:
		return nil
	}
	m.set(Loaded)
	m.location = nil
	m.pid = 0
	m.thread = 0
	m.resumed = false
	ev := m.event(EventProgramExited)
	ev.ExitCode = code
	return []Event{ev}
}

// terminated applies the loss of the backend. err is nil for a clean quit.
func (m *machine) terminated(err error) []Event {
	if m.state == Unloaded {
		return nil
	}
	m.set(Unloaded)
	m.location = nil
	m.program = ""
	m.pid = 0
	m.thread = 0
	m.resumed = false
	ev := m.event(EventDebuggerStopped)
	ev.Err = err
	return []Event{ev}
}
