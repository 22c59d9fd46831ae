package debugger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// HandleStatus is the lifecycle position of a submitted command.
type HandleStatus int

const (
	StatusPending HandleStatus = iota
	StatusInFlight
	StatusDone
	StatusAborted
)

func (s HandleStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in-flight"
	case StatusDone:
		return "done"
	case StatusAborted:
		return "aborted"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s HandleStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Handle tracks one submitted command. It cannot cancel the command.
type Handle struct {
	id  string
	cmd Command

	// token is assigned at dispatch; only the controller goroutine uses it.
	token Token

	mu     sync.Mutex
	status HandleStatus
	result Result
	done   chan struct{}
}

func newHandle(cmd Command) *Handle {
	return &Handle{
		id:   uuid.New().String(),
		cmd:  cmd,
		done: make(chan struct{}),
	}
}

// ID returns the unique handle id.
func (h *Handle) ID() string { return h.id }

// Kind returns the kind of the submitted command.
func (h *Handle) Kind() Kind { return h.cmd.Kind }

// Command returns the submitted command.
func (h *Handle) Command() Command { return h.cmd }

// Status returns the current status.
func (h *Handle) Status() HandleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed when the command resolves or is aborted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome and whether the handle is finished.
func (h *Handle) Result() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.status == StatusDone || h.status == StatusAborted
}

// Wait blocks until the handle finishes or ctx is done. The returned error is
// the command's own error, ErrAborted-wrapping for aborted commands, or the
// context error.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		res, _ := h.Result()
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) setInFlight(token Token) {
	h.token = token
	h.mu.Lock()
	h.status = StatusInFlight
	h.mu.Unlock()
}

func (h *Handle) finish(status HandleStatus, res Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusDone || h.status == StatusAborted {
		return false
	}
	h.status = status
	h.result = res
	close(h.done)
	return true
}
