package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	godap "github.com/google/go-dap"

	"github.com/inercia/dbgctl/internal/debugger"
)

// DefaultQuitTimeout bounds the disconnect request sent on quit.
const DefaultQuitTimeout = 2 * time.Second

var errNoSession = errors.New("no adapter session")

// Options configures an Adapter.
type Options struct {
	// AdapterID is sent in the initialize request.
	AdapterID string
	// StopOnEntry is passed to launch requests.
	StopOnEntry bool
	// Connect opens the transport for each debugger session.
	Connect Connector
	// QuitTimeout bounds the disconnect request. Defaults to DefaultQuitTimeout.
	QuitTimeout time.Duration
	Logger      *slog.Logger
}

// Adapter is a debugger.Backend speaking the Debug Adapter Protocol. Each
// start command opens a new adapter session; quit closes it.
type Adapter struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	sink debugger.Sink
	sess *session
	ids  int
}

// session is one connection to the adapter, from start to quit or loss.
type session struct {
	id     int
	client *Client
	ctx    context.Context
	cancel context.CancelFunc

	quitting    atomic.Bool
	initialized chan struct{}
	initOnce    sync.Once

	mu         sync.Mutex
	caps       godap.Capabilities
	configured bool
	thread     int
	frameID    int
	pid        int
	tempBreak  *godap.Source
}

// NewAdapter creates an Adapter. opts.Connect is required.
func NewAdapter(opts Options) *Adapter {
	if opts.QuitTimeout <= 0 {
		opts.QuitTimeout = DefaultQuitTimeout
	}
	if opts.AdapterID == "" {
		opts.AdapterID = "dbgctl"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{opts: opts, logger: logger}
}

// Bind implements debugger.Backend.
func (a *Adapter) Bind(sink debugger.Sink) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

// Send implements debugger.Backend. Requests run on their own goroutine and
// report through the sink.
func (a *Adapter) Send(token debugger.Token, cmd debugger.Command) error {
	if cmd.Kind == debugger.KindStart {
		go a.start(token)
		return nil
	}

	s := a.current()
	if s == nil {
		if cmd.Kind == debugger.KindQuit {
			go a.resolve(token, debugger.Result{})
			return nil
		}
		return errNoSession
	}
	select {
	case <-s.client.Done():
		if err := s.client.Err(); err != nil {
			return err
		}
		return errNoSession
	default:
	}

	if cmd.Kind == debugger.KindQuit {
		s.quitting.Store(true)
		a.clear(s)
	}
	go a.execute(s, token, cmd)
	return nil
}

func (a *Adapter) current() *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess
}

func (a *Adapter) isCurrent(s *session) bool {
	return a.current() == s
}

func (a *Adapter) clear(s *session) {
	a.mu.Lock()
	if a.sess == s {
		a.sess = nil
	}
	a.mu.Unlock()
}

func (a *Adapter) getSink() debugger.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

func (a *Adapter) resolve(token debugger.Token, res debugger.Result) {
	if sink := a.getSink(); sink != nil {
		sink.Resolve(token, res)
	}
}

func (a *Adapter) notify(s *session, ev debugger.BackendEvent) {
	if s.quitting.Load() || !a.isCurrent(s) {
		return
	}
	if sink := a.getSink(); sink != nil {
		sink.Notify(ev)
	}
}

func (a *Adapter) start(token debugger.Token) {
	if old := a.current(); old != nil {
		old.quitting.Store(true)
		a.clear(old)
		old.cancel()
		old.client.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	transport, err := a.opts.Connect(ctx)
	if err != nil {
		cancel()
		a.resolve(token, debugger.Result{Err: &debugger.CommandError{
			Kind: debugger.KindStart, Message: "connect to adapter", Err: err,
		}})
		return
	}

	a.mu.Lock()
	a.ids++
	s := &session{id: a.ids, ctx: ctx, cancel: cancel, initialized: make(chan struct{})}
	a.mu.Unlock()

	s.client = NewClient(transport, a.tap,
		func(evt godap.EventMessage) { a.handleEvent(s, evt) },
		func(err error) { a.handleClosed(s, err) })

	a.mu.Lock()
	a.sess = s
	a.mu.Unlock()

	resp, err := s.client.Request(ctx, &godap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: godap.InitializeRequestArguments{
			ClientID:        "dbgctl",
			ClientName:      "dbgctl",
			AdapterID:       a.opts.AdapterID,
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	})
	if err != nil {
		s.quitting.Store(true)
		a.clear(s)
		cancel()
		s.client.Close()
		a.resolve(token, debugger.Result{Err: &debugger.CommandError{
			Kind: debugger.KindStart, Message: "initialize adapter", Err: err,
		}})
		return
	}

	if init, ok := resp.(*godap.InitializeResponse); ok {
		s.mu.Lock()
		s.caps = init.Body
		s.mu.Unlock()
	}
	a.logger.Debug("Adapter session started", "session", s.id, "adapter_id", a.opts.AdapterID)
	a.resolve(token, debugger.Result{})
}

func (a *Adapter) tap(outgoing bool, content []byte) {
	sink := a.getSink()
	if sink == nil {
		return
	}
	dir := debugger.FromBackend
	if outgoing {
		dir = debugger.ToBackend
	}
	sink.Traffic(dir, string(content))
}

func (a *Adapter) execute(s *session, token debugger.Token, cmd debugger.Command) {
	output, err := a.perform(s, cmd)
	if err != nil {
		err = a.classify(s, cmd.Kind, err)
	}
	a.resolve(token, debugger.Result{Output: output, Err: err})
}

// classify turns a request failure into a command failure or backend loss.
func (a *Adapter) classify(s *session, kind debugger.Kind, err error) error {
	var re *ResponseError
	if errors.As(err, &re) {
		return &debugger.CommandError{Kind: kind, Message: re.Message, Err: err}
	}
	var ce *debugger.CommandError
	if errors.As(err, &ce) || errors.Is(err, debugger.ErrNotSupported) {
		return err
	}
	select {
	case <-s.client.Done():
		if kind == debugger.KindQuit {
			return nil
		}
		if lost := s.client.Err(); lost != nil {
			return &debugger.BackendLostError{Err: lost}
		}
	default:
	}
	return &debugger.CommandError{Kind: kind, Err: err}
}

func unsupported(kind debugger.Kind) error {
	return &debugger.CommandError{Kind: kind, Message: "not supported by DAP backends", Err: debugger.ErrNotSupported}
}

// do sends req and drops the response body.
func (s *session) do(req godap.RequestMessage) error {
	_, err := s.client.Request(s.ctx, req)
	return err
}

func (s *session) continueThread() error {
	return s.do(&godap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: godap.ContinueArguments{ThreadId: s.threadID()},
	})
}

func (a *Adapter) perform(s *session, cmd debugger.Command) (string, error) {
	switch cmd.Kind {
	case debugger.KindLoad:
		return "", a.launchOrAttach(s, cmd.Kind, LaunchArguments{
			Name:        "dbgctl",
			Request:     "launch",
			Program:     cmd.Program,
			Args:        cmd.Args,
			Cwd:         cmd.WorkDir,
			StopOnEntry: a.opts.StopOnEntry,
			SourcePaths: cmd.SourcePaths,
		})

	case debugger.KindAttach:
		s.mu.Lock()
		s.pid = cmd.PID
		s.mu.Unlock()
		return "", a.launchOrAttach(s, cmd.Kind, AttachArguments{
			Name:      "dbgctl",
			Request:   "attach",
			Mode:      "local",
			ProcessID: cmd.PID,
		})

	case debugger.KindRun:
		s.mu.Lock()
		configured := s.configured
		s.configured = true
		canConfigure := s.caps.SupportsConfigurationDoneRequest
		s.mu.Unlock()
		if !configured {
			if !canConfigure {
				return "", nil
			}
			return "", s.do(&godap.ConfigurationDoneRequest{Request: newRequest("configurationDone")})
		}
		return "", s.continueThread()

	case debugger.KindStepOver:
		return "", s.do(&godap.NextRequest{
			Request:   newRequest("next"),
			Arguments: godap.NextArguments{ThreadId: s.threadID()},
		})
	case debugger.KindStepIn:
		return "", s.do(&godap.StepInRequest{
			Request:   newRequest("stepIn"),
			Arguments: godap.StepInArguments{ThreadId: s.threadID()},
		})
	case debugger.KindStepOut:
		return "", s.do(&godap.StepOutRequest{
			Request:   newRequest("stepOut"),
			Arguments: godap.StepOutArguments{ThreadId: s.threadID()},
		})
	case debugger.KindStepInstructionOver:
		return "", s.do(&godap.NextRequest{
			Request:   newRequest("next"),
			Arguments: godap.NextArguments{ThreadId: s.threadID(), Granularity: instructionGranularity},
		})
	case debugger.KindStepInstructionIn:
		return "", s.do(&godap.StepInRequest{
			Request:   newRequest("stepIn"),
			Arguments: godap.StepInArguments{ThreadId: s.threadID(), Granularity: instructionGranularity},
		})

	case debugger.KindRunTo:
		return "", a.runTo(s, cmd.File, cmd.Line)

	case debugger.KindRunFrom:
		return "", a.runFrom(s, cmd.File, cmd.Line)

	case debugger.KindInterrupt:
		return "", s.do(&godap.PauseRequest{
			Request:   newRequest("pause"),
			Arguments: godap.PauseArguments{ThreadId: s.threadID()},
		})

	case debugger.KindSendRaw:
		s.mu.Lock()
		frame := s.frameID
		s.mu.Unlock()
		resp, err := s.client.Request(s.ctx, &godap.EvaluateRequest{
			Request:   newRequest("evaluate"),
			Arguments: godap.EvaluateArguments{Expression: cmd.Text, FrameId: frame, Context: "repl"},
		})
		if err != nil {
			return "", err
		}
		if eval, ok := resp.(*godap.EvaluateResponse); ok {
			return eval.Body.Result, nil
		}
		return "", nil

	case debugger.KindQuit:
		return "", a.quit(s)

	case debugger.KindConnectRemote, debugger.KindRunToAddress, debugger.KindRunFromAddress:
		return "", unsupported(cmd.Kind)
	}
	return "", unsupported(cmd.Kind)
}

// launchOrAttach sends the request and returns once the adapter answers it
// or announces it is ready for configuration, whichever comes first. Some
// adapters hold the launch response until configurationDone.
func (a *Adapter) launchOrAttach(s *session, kind debugger.Kind, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal %s arguments: %w", kind, err)
	}
	var req godap.RequestMessage = &godap.LaunchRequest{Request: newRequest("launch"), Arguments: raw}
	if kind == debugger.KindAttach {
		req = &godap.AttachRequest{Request: newRequest("attach"), Arguments: raw}
	}
	command := req.GetRequest().Command
	done := make(chan error, 1)
	go func() { done <- s.do(req) }()

	select {
	case err := <-done:
		return err
	case <-s.initialized:
		go func() {
			if err := <-done; err != nil && !s.quitting.Load() {
				a.logger.Warn("Deferred request failed", "command", command, "error", err)
			}
		}()
		return nil
	}
}

func setBreakpoints(src godap.Source, lines ...int) *godap.SetBreakpointsRequest {
	bps := make([]godap.SourceBreakpoint, 0, len(lines))
	for _, line := range lines {
		bps = append(bps, godap.SourceBreakpoint{Line: line})
	}
	return &godap.SetBreakpointsRequest{
		Request:   newRequest("setBreakpoints"),
		Arguments: godap.SetBreakpointsArguments{Source: src, Breakpoints: bps},
	}
}

// runTo sets a temporary line breakpoint and continues. The breakpoint is
// cleared on the next stop.
func (a *Adapter) runTo(s *session, file string, line int) error {
	src := godap.Source{Path: file}
	if err := s.do(setBreakpoints(src, line)); err != nil {
		return err
	}
	s.mu.Lock()
	s.tempBreak = &src
	s.mu.Unlock()
	return s.continueThread()
}

func (a *Adapter) runFrom(s *session, file string, line int) error {
	s.mu.Lock()
	canGoto := s.caps.SupportsGotoTargetsRequest
	s.mu.Unlock()
	if !canGoto {
		return unsupported(debugger.KindRunFrom)
	}
	resp, err := s.client.Request(s.ctx, &godap.GotoTargetsRequest{
		Request:   newRequest("gotoTargets"),
		Arguments: godap.GotoTargetsArguments{Source: godap.Source{Path: file}, Line: line},
	})
	if err != nil {
		return err
	}
	var targets []godap.GotoTarget
	if gt, ok := resp.(*godap.GotoTargetsResponse); ok {
		targets = gt.Body.Targets
	}
	if len(targets) == 0 {
		return &debugger.CommandError{
			Kind:    debugger.KindRunFrom,
			Message: fmt.Sprintf("no code at %s:%d", file, line),
		}
	}
	err = s.do(&godap.GotoRequest{
		Request:   newRequest("goto"),
		Arguments: godap.GotoArguments{ThreadId: s.threadID(), TargetId: targets[0].Id},
	})
	if err != nil {
		return err
	}
	return s.continueThread()
}

func (a *Adapter) quit(s *session) error {
	ctx, cancel := context.WithTimeout(s.ctx, a.opts.QuitTimeout)
	_, err := s.client.Request(ctx, &godap.DisconnectRequest{
		Request:   newRequest("disconnect"),
		Arguments: &godap.DisconnectArguments{TerminateDebuggee: true},
	})
	cancel()
	if err != nil {
		a.logger.Debug("Disconnect failed", "session", s.id, "error", err)
	}
	s.cancel()
	if cerr := s.client.Close(); cerr != nil {
		a.logger.Debug("Closing adapter transport", "session", s.id, "error", cerr)
	}
	a.logger.Debug("Adapter session closed", "session", s.id)
	return nil
}

func (s *session) threadID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == 0 {
		return 1
	}
	return s.thread
}

func (a *Adapter) handleEvent(s *session, msg godap.EventMessage) {
	switch evt := msg.(type) {
	case *godap.InitializedEvent:
		s.initOnce.Do(func() { close(s.initialized) })

	case *godap.StoppedEvent:
		a.notify(s, a.stoppedEvent(s, evt.Body))

	case *godap.ContinuedEvent:
		a.notify(s, debugger.BackendEvent{Kind: debugger.BackendRunning, Thread: evt.Body.ThreadId})

	case *godap.ExitedEvent:
		a.notify(s, debugger.BackendEvent{Kind: debugger.BackendExited, ExitCode: evt.Body.ExitCode})

	case *godap.TerminatedEvent:
		// The debuggee is gone; the adapter session stays usable for a
		// new load.
		s.mu.Lock()
		s.configured = false
		s.mu.Unlock()
		a.notify(s, debugger.BackendEvent{Kind: debugger.BackendExited})

	case *godap.OutputEvent:
		if evt.Body.Category == "telemetry" {
			return
		}
		a.notify(s, debugger.BackendEvent{Kind: debugger.BackendOutput, Output: evt.Body.Output})

	case *godap.ProcessEvent:
		if evt.Body.SystemProcessId != 0 {
			s.mu.Lock()
			s.pid = evt.Body.SystemProcessId
			s.mu.Unlock()
		}

	default:
		a.logger.Debug("Ignoring adapter event", "event", msg.GetEvent().Event)
	}
}

func (a *Adapter) stoppedEvent(s *session, body godap.StoppedEventBody) debugger.BackendEvent {
	s.mu.Lock()
	if body.ThreadId != 0 {
		s.thread = body.ThreadId
	}
	thread := s.thread
	pid := s.pid
	temp := s.tempBreak
	s.tempBreak = nil
	s.mu.Unlock()

	if temp != nil {
		if err := s.do(setBreakpoints(*temp)); err != nil {
			a.logger.Debug("Clearing temporary breakpoint failed", "file", temp.Path, "error", err)
		}
	}

	ev := debugger.BackendEvent{
		Kind:   debugger.BackendStopped,
		Reason: body.Reason,
		Thread: thread,
		PID:    pid,
	}

	switch body.Reason {
	case "exception":
		name := body.Text
		if name == "" {
			name = "exception"
		}
		ev.Signal = &debugger.Signal{Name: name, Description: body.Description}
		ev.Reason = "signal"
	case "pause":
		ev.Signal = &debugger.Signal{Name: "SIGINT", Description: "Interrupt"}
	}

	resp, err := s.client.Request(s.ctx, &godap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: godap.StackTraceArguments{ThreadId: s.threadID(), Levels: 1},
	})
	if err != nil {
		a.logger.Debug("Stack trace failed", "thread", thread, "error", err)
		return ev
	}
	if trace, ok := resp.(*godap.StackTraceResponse); ok && len(trace.Body.StackFrames) > 0 {
		frame := trace.Body.StackFrames[0]
		s.mu.Lock()
		s.frameID = frame.Id
		s.mu.Unlock()
		ev.Location = frameLocation(frame)
	}
	return ev
}

func frameLocation(frame godap.StackFrame) *debugger.Location {
	loc := &debugger.Location{Line: frame.Line, Function: frame.Name}
	if frame.Source != nil {
		loc.File = frame.Source.Path
		if loc.File == "" {
			loc.File = frame.Source.Name
		}
	}
	if ref := frame.InstructionPointerReference; ref != "" {
		if addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(ref), "0x"), 16, 64); err == nil {
			loc.Address = addr
		}
	}
	return loc
}

func (a *Adapter) handleClosed(s *session, err error) {
	if s.quitting.Load() || !a.isCurrent(s) {
		return
	}
	a.clear(s)
	if err == nil {
		err = errNoSession
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("adapter closed the connection: %w", err)
	}
	if sink := a.getSink(); sink != nil {
		sink.Notify(debugger.BackendEvent{Kind: debugger.BackendTerminated, Err: err})
	}
}
