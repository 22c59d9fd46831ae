package debugger

import (
	"fmt"
	"strings"
)

// Kind is the closed set of commands a backend can be asked to perform.
type Kind int

const (
	KindStart Kind = iota + 1
	KindLoad
	KindAttach
	KindConnectRemote
	KindRun
	KindStepIn
	KindStepOver
	KindStepOut
	KindStepInstructionIn
	KindStepInstructionOver
	KindRunTo
	KindRunToAddress
	KindRunFrom
	KindRunFromAddress
	KindInterrupt
	KindSendRaw
	KindQuit
)

var kindNames = map[Kind]string{
	KindStart:               "start",
	KindLoad:                "load",
	KindAttach:              "attach",
	KindConnectRemote:       "connect-remote",
	KindRun:                 "run",
	KindStepIn:              "step-in",
	KindStepOver:            "step-over",
	KindStepOut:             "step-out",
	KindStepInstructionIn:   "stepi-in",
	KindStepInstructionOver: "stepi-over",
	KindRunTo:               "run-to",
	KindRunToAddress:        "run-to-address",
	KindRunFrom:             "run-from",
	KindRunFromAddress:      "run-from-address",
	KindInterrupt:           "interrupt",
	KindSendRaw:             "send-raw",
	KindQuit:                "quit",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind with the given name. "continue" is accepted as an
// alias of "run".
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "continue" {
		return KindRun, nil
	}
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown command kind %q", name)
}

// IsExecution reports whether a successful k lets the program run.
func (k Kind) IsExecution() bool {
	switch k {
	case KindRun, KindStepIn, KindStepOver, KindStepOut,
		KindStepInstructionIn, KindStepInstructionOver,
		KindRunTo, KindRunToAddress, KindRunFrom, KindRunFromAddress:
		return true
	}
	return false
}

// Priority controls queue ordering.
type Priority int

const (
	// Normal commands are dispatched in submission order.
	Normal Priority = iota
	// Immediate commands bypass ordering and go to the backend at once.
	Immediate
)

// Result is what a backend reports for one command.
type Result struct {
	// Output is free-form text produced by the command, if any.
	Output string
	Err    error
}

// Command is an immutable request for the backend. Build one with the
// constructor functions; the zero value is not a valid command.
type Command struct {
	Kind     Kind
	Priority Priority

	// Program, Args, WorkDir and SourcePaths apply to load.
	Program     string
	Args        []string
	WorkDir     string
	SourcePaths []string

	// PID applies to attach.
	PID int
	// Target applies to connect-remote.
	Target string
	// File and Line apply to run-to and run-from.
	File string
	Line int
	// Address applies to run-to-address and run-from-address.
	Address uint64
	// Text applies to send-raw.
	Text string

	// Then is invoked on the controller goroutine when the command resolves.
	// It is never invoked for aborted commands.
	Then func(Result)
}

// WithThen returns a copy of c that calls fn on resolution.
func (c Command) WithThen(fn func(Result)) Command {
	c.Then = fn
	return c
}

func (c Command) String() string {
	switch c.Kind {
	case KindLoad:
		if len(c.Args) > 0 {
			return fmt.Sprintf("load %s %s", c.Program, strings.Join(c.Args, " "))
		}
		return "load " + c.Program
	case KindAttach:
		return fmt.Sprintf("attach %d", c.PID)
	case KindConnectRemote:
		return "connect-remote " + c.Target
	case KindRunTo, KindRunFrom:
		return fmt.Sprintf("%s %s:%d", c.Kind, c.File, c.Line)
	case KindRunToAddress, KindRunFromAddress:
		return fmt.Sprintf("%s %#x", c.Kind, c.Address)
	case KindSendRaw:
		return "send-raw " + c.Text
	}
	return c.Kind.String()
}

// Validate checks that the payload required by the kind is present.
func (c Command) Validate() error {
	switch c.Kind {
	case KindLoad:
		if c.Program == "" {
			return fmt.Errorf("load: program is required")
		}
	case KindAttach:
		if c.PID <= 0 {
			return fmt.Errorf("attach: invalid process id %d", c.PID)
		}
	case KindConnectRemote:
		if c.Target == "" {
			return fmt.Errorf("connect-remote: target is required")
		}
	case KindRunTo, KindRunFrom:
		if c.File == "" || c.Line <= 0 {
			return fmt.Errorf("%s: file and a positive line are required", c.Kind)
		}
	case KindSendRaw:
		if c.Text == "" {
			return fmt.Errorf("send-raw: text is required")
		}
	case KindStart, KindRun, KindStepIn, KindStepOver, KindStepOut,
		KindStepInstructionIn, KindStepInstructionOver,
		KindRunToAddress, KindRunFromAddress, KindInterrupt, KindQuit:
	default:
		return fmt.Errorf("unknown command kind %d", int(c.Kind))
	}
	return nil
}

func Start() Command { return Command{Kind: KindStart} }

func Load(program string, args ...string) Command {
	return Command{Kind: KindLoad, Program: program, Args: args}
}

func Attach(pid int) Command { return Command{Kind: KindAttach, PID: pid} }

func ConnectRemote(target string) Command {
	return Command{Kind: KindConnectRemote, Target: target}
}

func Run() Command                 { return Command{Kind: KindRun} }
func StepIn() Command              { return Command{Kind: KindStepIn} }
func StepOver() Command            { return Command{Kind: KindStepOver} }
func StepOut() Command             { return Command{Kind: KindStepOut} }
func StepInstructionIn() Command   { return Command{Kind: KindStepInstructionIn} }
func StepInstructionOver() Command { return Command{Kind: KindStepInstructionOver} }

func RunTo(file string, line int) Command {
	return Command{Kind: KindRunTo, File: file, Line: line}
}

func RunToAddress(addr uint64) Command {
	return Command{Kind: KindRunToAddress, Address: addr}
}

func RunFrom(file string, line int) Command {
	return Command{Kind: KindRunFrom, File: file, Line: line}
}

func RunFromAddress(addr uint64) Command {
	return Command{Kind: KindRunFromAddress, Address: addr}
}

func Interrupt() Command { return Command{Kind: KindInterrupt, Priority: Immediate} }

func SendRaw(text string) Command { return Command{Kind: KindSendRaw, Text: text} }

func Quit() Command { return Command{Kind: KindQuit, Priority: Immediate} }
