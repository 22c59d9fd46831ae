package debugger

// Token identifies one dispatched command. Tokens are never reused by a
// controller.
type Token uint64

// Direction of a traffic line relative to the backend.
type Direction int

const (
	// ToBackend is text written to the backend.
	ToBackend Direction = iota
	// FromBackend is text read from the backend.
	FromBackend
)

func (d Direction) String() string {
	if d == ToBackend {
		return ">>"
	}
	return "<<"
}

// Backend is the engine-specific adapter the controller drives.
//
// Send must not wait for the command to complete: the outcome is reported
// later through Sink.Resolve with the same token. A non-nil error from Send
// means the backend transport is unusable and is treated as backend loss.
type Backend interface {
	Bind(sink Sink)
	Send(token Token, cmd Command) error
}

// Sink receives everything a Backend reports. All methods are safe for use
// from any goroutine and never block on the controller.
type Sink interface {
	Resolve(token Token, res Result)
	Notify(ev BackendEvent)
	Traffic(dir Direction, text string)
}

// BackendEventKind is the kind of an unsolicited backend report.
type BackendEventKind int

const (
	// BackendStopped reports the program paused.
	BackendStopped BackendEventKind = iota + 1
	// BackendRunning reports the program resumed without a command.
	BackendRunning
	// BackendSignal reports a signal delivered to the program.
	BackendSignal
	// BackendExited reports the program ended.
	BackendExited
	// BackendTerminated reports the backend itself ended. Err is nil for a
	// requested shutdown.
	BackendTerminated
	// BackendOutput carries program or console output.
	BackendOutput
)

// BackendEvent is an unsolicited report from the backend.
type BackendEvent struct {
	Kind     BackendEventKind
	Reason   string
	Location *Location
	Signal   *Signal
	Thread   int
	PID      int
	ExitCode int
	Output   string
	Err      error
}
