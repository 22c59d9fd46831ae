package debugger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dependencies is everything a Controller needs from its environment.
type Dependencies struct {
	// Backend is required.
	Backend Backend
	// Hub is created when nil.
	Hub *Hub
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Snapshot is a consistent view of the session at one point in time.
type Snapshot struct {
	State      State     `json:"state"`
	StatusText string    `json:"status"`
	Actions    Actions   `json:"actions"`
	Location   *Location `json:"location,omitempty"`
	Program    string    `json:"program,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Thread     int       `json:"thread,omitempty"`
	Busy       bool      `json:"busy"`
	Pending    int       `json:"pending"`
	Traffic    bool      `json:"traffic_attached"`
	LastError  string    `json:"last_error,omitempty"`
	Seq        uint64    `json:"seq"`
}

// Controller serialises all session activity on one goroutine.
type Controller struct {
	backend Backend
	hub     *Hub
	logger  *slog.Logger
	now     func() time.Time

	mb      mailbox
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// owned by the loop goroutine
	sm      machine
	q       *queue
	tap     trafficTap
	seq     uint64
	lastErr error
	closed  bool

	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates a controller and starts its goroutine.
func New(deps Dependencies) (*Controller, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("controller: backend is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		backend: deps.Backend,
		hub:     hub,
		logger:  logger,
		now:     now,
		mb:      mailbox{signal: make(chan struct{}, 1)},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		q:       newQueue(),
	}
	c.refreshSnapshot()
	c.backend.Bind(backendSink{c: c})

	go c.run()
	return c, nil
}

// Hub returns the notification hub.
func (c *Controller) Hub() *Hub { return c.hub }

// Subscribe registers sub with the hub. See Hub.Subscribe.
func (c *Controller) Subscribe(sub Subscriber, kinds ...EventKind) *Subscription {
	return c.hub.Subscribe(sub, kinds...)
}

// Unsubscribe removes a subscription.
func (c *Controller) Unsubscribe(s *Subscription) { c.hub.Unsubscribe(s) }

// Submit queues cmd and returns immediately. Interrupt and quit commands are
// routed to SubmitInterrupt and Quit.
func (c *Controller) Submit(cmd Command) *Handle {
	h := newHandle(cmd)
	if !c.mb.post(func() { c.accept(h) }) {
		h.finish(StatusAborted, Result{Err: ErrControllerClosed})
	}
	return h
}

// SubmitInterrupt asks the backend to pause the program. If a command is in
// flight the interrupt is sent alongside it, ahead of anything pending.
func (c *Controller) SubmitInterrupt() *Handle { return c.Submit(Interrupt()) }

// Quit stops the debugger: the queue is aborted, the backend is told to
// quit, and the session moves to Unloaded without waiting for it.
func (c *Controller) Quit() *Handle { return c.Submit(Quit()) }

// AbortAll drops every pending command and abandons the in-flight one.
// Continuations of affected commands never run.
func (c *Controller) AbortAll() {
	c.mb.post(func() { c.abortAll(ErrAborted) })
}

// AttachTrafficSink mirrors backend traffic to sink, replacing any sink
// already attached.
func (c *Controller) AttachTrafficSink(sink TrafficSink) {
	c.mb.post(func() { c.tap.attach(sink) })
}

// DetachTrafficSink stops mirroring backend traffic.
func (c *Controller) DetachTrafficSink() {
	c.mb.post(func() { c.tap.detach() })
}

// ChangeLocation announces that the user navigated to loc.
func (c *Controller) ChangeLocation(loc Location) {
	c.mb.post(func() {
		ev := c.sm.event(EventLocationChanged)
		ev.Location = &loc
		c.publish(ev)
	})
}

// ProgramImageChanged announces that the program file on disk changed.
func (c *Controller) ProgramImageChanged(path string) {
	c.mb.post(func() {
		if c.sm.state == Unloaded {
			return
		}
		ev := c.sm.event(EventProgramImageChanged)
		ev.Path = path
		c.publish(ev)
	})
}

// Snapshot returns the latest committed session view without waiting for
// the controller goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	s := c.snap
	if s.Location != nil {
		loc := *s.Location
		s.Location = &loc
	}
	return s
}

// State returns the current session state.
func (c *Controller) State() State { return c.Snapshot().State }

// Close stops the controller goroutine. Commands still queued are aborted
// and later submissions fail with ErrControllerClosed. The backend is not
// told anything; call Quit first for an orderly shutdown.
func (c *Controller) Close() {
	c.once.Do(func() {
		close(c.done)
		<-c.stopped
	})
}

// sync waits until every operation posted before it has run.
func (c *Controller) sync() {
	ch := make(chan struct{})
	if c.mb.post(func() { close(ch) }) {
		<-ch
	}
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.mb.ready():
			for _, op := range c.mb.drain() {
				op()
			}
			c.refreshSnapshot()
		case <-c.done:
			c.closed = true
			for _, op := range c.mb.shut() {
				op()
			}
			c.abortAll(ErrControllerClosed)
			c.refreshSnapshot()
			return
		}
	}
}

// accept runs on the loop for every submitted handle.
func (c *Controller) accept(h *Handle) {
	cmd := h.cmd
	if c.closed {
		h.finish(StatusAborted, Result{Err: ErrControllerClosed})
		return
	}
	if err := cmd.Validate(); err != nil {
		c.complete(h, Result{Err: err})
		return
	}

	switch cmd.Kind {
	case KindQuit:
		c.quit(h)
		return
	case KindInterrupt:
		c.interrupt(h)
		return
	}

	c.q.push(h)
	c.logger.Debug("Command queued", "command", cmd.String(), "handle", h.id, "state", c.sm.state.String())
	c.pump()
}

func (c *Controller) interrupt(h *Handle) {
	st := c.sm.state
	execInFlight := c.q.inFlight != nil && c.q.inFlight.cmd.Kind.IsExecution()
	legal := CanAccept(st, KindInterrupt) ||
		(execInFlight && (st == Loaded || st == Stopped))
	if !legal {
		c.complete(h, Result{Err: &PreconditionError{Kind: KindInterrupt, State: st}})
		return
	}
	busy := c.q.busy()
	token := c.q.nextToken()
	h.setInFlight(token)
	if busy {
		c.q.immediate[token] = h
	} else {
		// an idle interrupt holds the slot until it resolves
		c.q.inFlight = h
	}
	c.logger.Debug("Interrupt sent", "token", token, "busy", busy)
	if err := c.backend.Send(token, h.cmd); err != nil {
		c.backendLost(err)
	}
}

func (c *Controller) quit(h *Handle) {
	st := c.sm.state
	if !CanAccept(st, KindQuit) {
		c.complete(h, Result{Err: &PreconditionError{Kind: KindQuit, State: st}})
		return
	}
	c.abortAll(ErrAborted)

	token := c.q.nextToken()
	c.q.abandoned[token] = struct{}{}
	if err := c.backend.Send(token, h.cmd); err != nil {
		c.logger.Warn("Backend did not accept quit", "error", err)
	}

	c.lastErr = nil
	events := c.sm.terminated(nil)
	c.refreshSnapshot()
	c.publish(events...)
	c.complete(h, Result{})
}

// pump dispatches the head of the queue when nothing is in flight. A head
// command that only becomes legal once the program stops is held.
func (c *Controller) pump() {
	for !c.q.busy() {
		h := c.q.head()
		if h == nil {
			return
		}
		st := c.sm.state
		switch {
		case CanAccept(st, h.cmd.Kind):
			c.q.pop()
			c.dispatch(h)
			return
		case waitsForStop(st, h.cmd.Kind):
			return
		default:
			c.q.pop()
			c.logger.Debug("Command rejected", "command", h.cmd.String(), "state", st.String())
			c.complete(h, Result{Err: &PreconditionError{Kind: h.cmd.Kind, State: st}})
		}
	}
}

func (c *Controller) dispatch(h *Handle) {
	token := c.q.nextToken()
	h.setInFlight(token)
	c.q.inFlight = h
	c.logger.Debug("Command dispatched", "command", h.cmd.String(), "token", token)
	if err := c.backend.Send(token, h.cmd); err != nil {
		c.backendLost(err)
	}
}

// complete finishes h and runs its continuation.
func (c *Controller) complete(h *Handle, res Result) {
	if !h.finish(StatusDone, res) {
		return
	}
	if h.cmd.Then == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Command continuation panicked", "command", h.cmd.String(), "panic", fmt.Sprint(r))
		}
	}()
	h.cmd.Then(res)
}

func (c *Controller) abortAll(reason error) {
	if c.q.inFlight != nil && c.q.inFlight.cmd.Kind.IsExecution() {
		c.sm.execSettled()
	}
	dropped := c.q.abortAll()
	for _, h := range dropped {
		h.finish(StatusAborted, Result{Err: reason})
	}
	if len(dropped) > 0 {
		c.logger.Debug("Commands aborted", "count", len(dropped), "reason", reason)
	}
}

// backendLost handles a transport failure or an unexpected backend exit.
func (c *Controller) backendLost(cause error) {
	err := cause
	if err != nil && !errors.Is(err, ErrBackendLost) {
		err = &BackendLostError{Err: cause}
	}
	c.lastErr = err
	events := c.sm.terminated(err)
	c.abortAll(err)
	if err != nil {
		c.logger.Error("Backend lost", "error", err)
	}
	c.refreshSnapshot()
	c.publish(events...)
}

func (c *Controller) onResolved(token Token, res Result) {
	h, abandoned := c.q.take(token)
	if abandoned {
		c.logger.Debug("Ignoring result of abandoned command", "token", token)
		return
	}
	if h == nil {
		c.logger.Warn("Result for unknown command", "token", token)
		return
	}

	if res.Err != nil && errors.Is(res.Err, ErrBackendLost) {
		h.finish(StatusAborted, Result{Err: res.Err})
		c.backendLost(res.Err)
		return
	}

	var events []Event
	if res.Err == nil {
		events = c.sm.commandSucceeded(h.cmd)
	} else {
		var ce *CommandError
		if !errors.As(res.Err, &ce) {
			res.Err = &CommandError{Kind: h.cmd.Kind, Err: res.Err}
		}
		if h.cmd.Kind.IsExecution() {
			c.sm.execSettled()
		}
		c.logger.Debug("Command failed", "command", h.cmd.String(), "error", res.Err)
	}

	c.refreshSnapshot()
	c.publish(events...)
	c.complete(h, res)
	c.pump()
}

func (c *Controller) onEvent(ev BackendEvent) {
	var events []Event
	switch ev.Kind {
	case BackendStopped:
		execInFlight := c.q.inFlight != nil && c.q.inFlight.cmd.Kind.IsExecution()
		events = c.sm.stopped(ev, execInFlight)
	case BackendRunning:
		events = c.sm.running()
	case BackendSignal:
		events = c.sm.signal(ev)
	case BackendExited:
		events = c.sm.exited(ev.ExitCode)
	case BackendTerminated:
		if c.sm.state != Unloaded {
			c.backendLost(ev.Err)
		}
		return
	case BackendOutput:
		if c.sm.state != Unloaded {
			out := c.sm.event(EventProgramOutput)
			out.Output = ev.Output
			events = []Event{out}
		}
	default:
		c.logger.Warn("Unknown backend event", "kind", int(ev.Kind))
		return
	}

	c.refreshSnapshot()
	c.publish(events...)
	c.pump()
}

func (c *Controller) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	now := c.now()
	for i := range events {
		c.seq++
		events[i].Seq = c.seq
		events[i].Time = now
	}
	c.snapMu.Lock()
	c.snap.Seq = c.seq
	c.snapMu.Unlock()
	for _, ev := range events {
		c.logger.Debug("Event", "kind", ev.Kind.String(), "state", ev.State.String(), "seq", ev.Seq)
	}
	c.hub.Publish(events...)
}

func (c *Controller) refreshSnapshot() {
	s := Snapshot{
		State:      c.sm.state,
		StatusText: StatusText(c.sm.state),
		Actions:    ActionsFor(c.sm.state),
		Program:    c.sm.program,
		PID:        c.sm.pid,
		Thread:     c.sm.thread,
		Busy:       c.q.busy(),
		Pending:    len(c.q.pending),
		Traffic:    c.tap.attached(),
		Seq:        c.seq,
	}
	if c.sm.location != nil {
		loc := *c.sm.location
		s.Location = &loc
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()
}

// backendSink marshals backend callbacks onto the controller goroutine.
type backendSink struct {
	c *Controller
}

func (s backendSink) Resolve(token Token, res Result) {
	s.c.mb.post(func() { s.c.onResolved(token, res) })
}

func (s backendSink) Notify(ev BackendEvent) {
	s.c.mb.post(func() { s.c.onEvent(ev) })
}

func (s backendSink) Traffic(dir Direction, text string) {
	s.c.mb.post(func() { s.c.tap.write(dir, text) })
}
