package debugger

import (
	"fmt"
	"time"
)

// EventKind identifies a notification published by the hub.
type EventKind int

const (
	EventDebuggerStarted EventKind = iota + 1
	EventProgramLoaded
	EventProgramRunning
	EventProgramStopped
	EventProgramMoved
	EventSignalReceived
	EventProgramExited
	EventDebuggerStopped
	EventLocationChanged
	EventProgramOutput
	EventProgramImageChanged
)

var eventNames = map[EventKind]string{
	EventDebuggerStarted:     "debugger-started",
	EventProgramLoaded:       "program-loaded",
	EventProgramRunning:      "program-running",
	EventProgramStopped:      "program-stopped",
	EventProgramMoved:        "program-moved",
	EventSignalReceived:      "signal-received",
	EventProgramExited:       "program-exited",
	EventDebuggerStopped:     "debugger-stopped",
	EventLocationChanged:     "location-changed",
	EventProgramOutput:       "program-output",
	EventProgramImageChanged: "program-image-changed",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ParseEventKind returns the EventKind with the given name.
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range eventNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}

// EventKinds lists every event kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, len(eventNames))
	for k := EventDebuggerStarted; k <= EventProgramImageChanged; k++ {
		out = append(out, k)
	}
	return out
}

// IsTransition reports whether events of kind k accompany a state change.
func (k EventKind) IsTransition() bool {
	switch k {
	case EventDebuggerStarted, EventProgramLoaded, EventProgramRunning,
		EventProgramStopped, EventProgramExited, EventDebuggerStopped:
		return true
	}
	return false
}

// Event is one notification. State is the session state after the change
// that produced the event.
type Event struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Kind     EventKind `json:"kind"`
	State    State     `json:"state"`
	Program  string    `json:"program,omitempty"`
	PID      int       `json:"pid,omitempty"`
	Thread   int       `json:"thread,omitempty"`
	Location *Location `json:"location,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Signal   *Signal   `json:"signal,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`
	Output   string    `json:"output,omitempty"`
	Path     string    `json:"path,omitempty"`
	Err      error     `json:"-"`
}

// Error returns the error text carried by debugger-stopped, if any.
func (e Event) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
