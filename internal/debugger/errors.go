package debugger

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionFailed is reported for commands the current state forbids.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBackendLost is reported when the backend transport fails or the
	// engine goes away.
	ErrBackendLost = errors.New("backend lost")

	// ErrAborted marks commands dropped by AbortAll.
	ErrAborted = errors.New("command aborted")

	// ErrControllerClosed is reported for submissions after Close.
	ErrControllerClosed = errors.New("controller closed")

	// ErrNotSupported is wrapped by backends for commands they cannot perform.
	ErrNotSupported = errors.New("not supported")
)

// PreconditionError reports a command that was rejected without reaching the
// backend because the session state did not allow it.
type PreconditionError struct {
	Kind  Kind
	State State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s in state %s", ErrPreconditionFailed, e.Kind, e.State)
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

// CommandError is a failure reported by the backend for one command. It does
// not affect the session state.
type CommandError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Kind, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Err }

// BackendLostError wraps the transport error that ended a backend session.
type BackendLostError struct {
	Err error
}

func (e *BackendLostError) Error() string {
	if e.Err == nil {
		return ErrBackendLost.Error()
	}
	return fmt.Sprintf("%s: %v", ErrBackendLost, e.Err)
}

func (e *BackendLostError) Is(target error) bool { return target == ErrBackendLost }

func (e *BackendLostError) Unwrap() error { return e.Err }
