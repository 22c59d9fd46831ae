package debugger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type sentCommand struct {
	token Token
	cmd   Command
}

// fakeBackend records dispatched commands and lets tests drive the sink.
type fakeBackend struct {
	mu      sync.Mutex
	sink    Sink
	sent    []sentCommand
	sentCh  chan sentCommand
	sendErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sentCh: make(chan sentCommand, 64)}
}

func (b *fakeBackend) Bind(s Sink) {
	b.mu.Lock()
	b.sink = s
	b.mu.Unlock()
}

func (b *fakeBackend) Send(token Token, cmd Command) error {
	b.mu.Lock()
	err := b.sendErr
	if err == nil {
		b.sent = append(b.sent, sentCommand{token, cmd})
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.sentCh <- sentCommand{token, cmd}
	return nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func (b *fakeBackend) expect(t *testing.T, kind Kind) sentCommand {
	t.Helper()
	select {
	case s := <-b.sentCh:
		if s.cmd.Kind != kind {
			t.Fatalf("backend received %s, want %s", s.cmd.Kind, kind)
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("backend did not receive %s", kind)
	}
	return sentCommand{}
}

func (b *fakeBackend) expectNothing(t *testing.T, c *Controller) {
	t.Helper()
	c.sync()
	select {
	case s := <-b.sentCh:
		t.Fatalf("backend unexpectedly received %s", s.cmd.Kind)
	default:
	}
}

func (b *fakeBackend) resolve(s sentCommand, err error) {
	b.sink.Resolve(s.token, Result{Err: err})
}

func (b *fakeBackend) notify(ev BackendEvent) { b.sink.Notify(ev) }

// recorder is a subscriber remembering every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T) (*Controller, *fakeBackend, *recorder) {
	t.Helper()
	b := newFakeBackend()
	c, err := New(Dependencies{Backend: b, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	rec := &recorder{}
	c.Subscribe(rec)
	return c, b, rec
}

func wait(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("handle %s (%s) did not finish", h.ID(), h.Kind())
	}
	return res
}

// driveTo walks a fresh controller to the requested state.
func driveTo(t *testing.T, c *Controller, b *fakeBackend, target State) {
	t.Helper()
	if target == Unloaded {
		return
	}
	h := c.Submit(Start())
	b.resolve(b.expect(t, KindStart), nil)
	wait(t, h)
	if target == Started {
		return
	}
	h = c.Submit(Load("/bin/hello"))
	b.resolve(b.expect(t, KindLoad), nil)
	wait(t, h)
	if target == Loaded {
		return
	}
	h = c.Submit(Run())
	b.resolve(b.expect(t, KindRun), nil)
	wait(t, h)
	if target == Running {
		c.sync()
		return
	}
	b.notify(BackendEvent{Kind: BackendStopped, Reason: "breakpoint", Thread: 1,
		Location: &Location{File: "main.c", Line: 10}})
	c.sync()
	if got := c.State(); got != target {
		t.Fatalf("driveTo(%s) ended in %s", target, got)
	}
}

func equalKinds(a, b []EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
