package dap

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	godap "github.com/google/go-dap"

	"github.com/inercia/dbgctl/internal/debugger"
)

func decodeArgs(t *testing.T, req fakeRequest, v any) {
	t.Helper()
	if err := json.Unmarshal(req.Arguments, v); err != nil {
		t.Fatalf("decode %s arguments: %v", req.Command, err)
	}
}

func TestAdapterLaunchRunAndStop(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{StopOnEntry: true})

	if err := a.Send(2, debugger.Load("/bin/prog", "-v")); err != nil {
		t.Fatal(err)
	}
	var launch LaunchArguments
	decodeArgs(t, fake.expect("launch"), &launch)
	if launch.Program != "/bin/prog" || len(launch.Args) != 1 || !launch.StopOnEntry || launch.Request != "launch" {
		t.Errorf("launch arguments = %+v", launch)
	}
	if res := sink.result(t, 2); res.Err != nil {
		t.Fatalf("load: %v", res.Err)
	}

	// First run finishes configuration.
	if err := a.Send(3, debugger.Run()); err != nil {
		t.Fatal(err)
	}
	fake.expect("configurationDone")
	sink.result(t, 3)

	fake.event("stopped", godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 3})
	ev := sink.event(t, debugger.BackendStopped)
	if ev.Thread != 3 || ev.Reason != "breakpoint" || ev.Signal != nil {
		t.Errorf("stopped event = %+v", ev)
	}
	want := debugger.Location{File: "/src/main.go", Line: 12, Address: 0x4a5b, Function: "main.main"}
	if ev.Location == nil || *ev.Location != want {
		t.Errorf("location = %+v, want %+v", ev.Location, want)
	}

	if err := a.Send(4, debugger.StepOver()); err != nil {
		t.Fatal(err)
	}
	var step godap.NextArguments
	decodeArgs(t, fake.expect("next"), &step)
	if step.ThreadId != 3 || step.Granularity != "" {
		t.Errorf("next arguments = %+v", step)
	}
	sink.result(t, 4)

	if err := a.Send(5, debugger.StepInstructionIn()); err != nil {
		t.Fatal(err)
	}
	var stepIn godap.StepInArguments
	decodeArgs(t, fake.expect("stepIn"), &stepIn)
	if stepIn.Granularity != "instruction" {
		t.Errorf("stepIn granularity = %q", stepIn.Granularity)
	}
	sink.result(t, 5)

	// Later runs continue the stopped thread.
	if err := a.Send(6, debugger.Run()); err != nil {
		t.Fatal(err)
	}
	var cont godap.ContinueArguments
	decodeArgs(t, fake.expect("continue"), &cont)
	if cont.ThreadId != 3 {
		t.Errorf("continue thread = %d", cont.ThreadId)
	}
	sink.result(t, 6)

	if sink.trafficLen() == 0 {
		t.Error("no traffic reported")
	}
}

func TestAdapterFailedResponseIsCommandError(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})
	fake.on("launch", func(req fakeRequest) { fake.reply(req, nil, "no such file") })

	if err := a.Send(2, debugger.Load("/missing")); err != nil {
		t.Fatal(err)
	}
	res := sink.result(t, 2)
	var ce *debugger.CommandError
	if !errors.As(res.Err, &ce) {
		t.Fatalf("err = %v, want CommandError", res.Err)
	}
	if ce.Message != "no such file" || ce.Kind != debugger.KindLoad {
		t.Errorf("CommandError = %+v", ce)
	}
	if errors.Is(res.Err, debugger.ErrBackendLost) {
		t.Error("command failure reported as backend loss")
	}
}

func TestAdapterDeferredLaunchResponse(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})

	launched := make(chan fakeRequest, 1)
	fake.on("launch", func(req fakeRequest) {
		launched <- req
		fake.event("initialized", nil)
	})
	fake.on("configurationDone", func(req fakeRequest) {
		fake.reply(<-launched, nil, "")
		fake.reply(req, nil, "")
	})

	if err := a.Send(2, debugger.Load("/bin/prog")); err != nil {
		t.Fatal(err)
	}
	if res := sink.result(t, 2); res.Err != nil {
		t.Fatalf("load: %v", res.Err)
	}
	if err := a.Send(3, debugger.Run()); err != nil {
		t.Fatal(err)
	}
	if res := sink.result(t, 3); res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
}

func TestAdapterTransportLoss(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})

	fake.close()
	ev := sink.event(t, debugger.BackendTerminated)
	if ev.Err == nil {
		t.Error("terminated event without error")
	}

	if err := a.Send(2, debugger.StepOver()); err == nil {
		t.Error("Send succeeded without a session")
	}
}

func TestAdapterQuitIsSilent(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})

	if err := a.Send(2, debugger.Quit()); err != nil {
		t.Fatal(err)
	}
	var args godap.DisconnectArguments
	decodeArgs(t, fake.expect("disconnect"), &args)
	if !args.TerminateDebuggee {
		t.Error("disconnect does not terminate the debuggee")
	}
	if res := sink.result(t, 2); res.Err != nil {
		t.Errorf("quit: %v", res.Err)
	}
	fake.close()
	sink.noEvent(t, 100*time.Millisecond)
}

func TestAdapterQuitWithoutSession(t *testing.T) {
	a := NewAdapter(Options{Connect: SocketConnector("127.0.0.1:1"), Logger: quietLogger()})
	sink := newFakeSink()
	a.Bind(sink)
	if err := a.Send(1, debugger.Quit()); err != nil {
		t.Fatalf("Send quit: %v", err)
	}
	if res := sink.result(t, 1); res.Err != nil {
		t.Errorf("quit: %v", res.Err)
	}
}

func TestAdapterStartConnectFailure(t *testing.T) {
	a := NewAdapter(Options{
		Connect: func(ctx context.Context) (Transport, error) { return nil, errors.New("refused") },
		Logger:  quietLogger(),
	})
	sink := newFakeSink()
	a.Bind(sink)
	if err := a.Send(1, debugger.Start()); err != nil {
		t.Fatal(err)
	}
	res := sink.result(t, 1)
	var ce *debugger.CommandError
	if !errors.As(res.Err, &ce) || ce.Kind != debugger.KindStart {
		t.Errorf("err = %v, want start CommandError", res.Err)
	}
}

func TestAdapterUnsupportedCommands(t *testing.T) {
	a, _, sink := startAdapter(t, Options{})

	cmds := []debugger.Command{
		debugger.RunToAddress(0x1000),
		debugger.RunFromAddress(0x1000),
		debugger.ConnectRemote("host:1234"),
	}
	for i, cmd := range cmds {
		token := debugger.Token(10 + i)
		if err := a.Send(token, cmd); err != nil {
			t.Fatal(err)
		}
		if res := sink.result(t, token); !errors.Is(res.Err, debugger.ErrNotSupported) {
			t.Errorf("%s: err = %v, want ErrNotSupported", cmd.Kind, res.Err)
		}
	}
}

func TestAdapterSendRawEvaluates(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})
	fake.on("evaluate", func(req fakeRequest) {
		fake.reply(req, godap.EvaluateResponseBody{Result: "42"}, "")
	})

	if err := a.Send(2, debugger.SendRaw("print x")); err != nil {
		t.Fatal(err)
	}
	var args godap.EvaluateArguments
	decodeArgs(t, fake.expect("evaluate"), &args)
	if args.Expression != "print x" || args.Context != "repl" {
		t.Errorf("evaluate arguments = %+v", args)
	}
	if res := sink.result(t, 2); res.Output != "42" || res.Err != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestAdapterRunToUsesTemporaryBreakpoint(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})

	if err := a.Send(2, debugger.RunTo("/src/main.go", 20)); err != nil {
		t.Fatal(err)
	}
	var set godap.SetBreakpointsArguments
	decodeArgs(t, fake.expect("setBreakpoints"), &set)
	if set.Source.Path != "/src/main.go" || len(set.Breakpoints) != 1 || set.Breakpoints[0].Line != 20 {
		t.Errorf("setBreakpoints arguments = %+v", set)
	}
	fake.expect("continue")
	sink.result(t, 2)

	fake.event("stopped", godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1})
	var cleared godap.SetBreakpointsArguments
	decodeArgs(t, fake.expect("setBreakpoints"), &cleared)
	if cleared.Source.Path != "/src/main.go" || len(cleared.Breakpoints) != 0 {
		t.Errorf("temporary breakpoint not cleared: %+v", cleared)
	}
	sink.event(t, debugger.BackendStopped)
}

func TestAdapterRunFromUsesGoto(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})
	fake.on("gotoTargets", func(req fakeRequest) {
		fake.reply(req, godap.GotoTargetsResponseBody{Targets: []godap.GotoTarget{{Id: 5, Line: 30}}}, "")
	})

	if err := a.Send(2, debugger.RunFrom("/src/main.go", 30)); err != nil {
		t.Fatal(err)
	}
	fake.expect("gotoTargets")
	var args godap.GotoArguments
	decodeArgs(t, fake.expect("goto"), &args)
	if args.TargetId != 5 {
		t.Errorf("goto target = %d", args.TargetId)
	}
	fake.expect("continue")
	if res := sink.result(t, 2); res.Err != nil {
		t.Errorf("run-from: %v", res.Err)
	}
}

func TestAdapterEventMapping(t *testing.T) {
	_, fake, sink := startAdapter(t, Options{})

	fake.event("stopped", godap.StoppedEventBody{Reason: "exception", Text: "SIGSEGV", Description: "segmentation fault"})
	ev := sink.event(t, debugger.BackendStopped)
	if ev.Signal == nil || ev.Signal.Name != "SIGSEGV" || ev.Reason != "signal" {
		t.Errorf("exception stop = %+v", ev)
	}

	fake.event("stopped", godap.StoppedEventBody{Reason: "pause", ThreadId: 2})
	ev = sink.event(t, debugger.BackendStopped)
	if ev.Signal == nil || !ev.Signal.IsInterrupt() {
		t.Errorf("pause stop = %+v", ev)
	}

	fake.event("continued", godap.ContinuedEventBody{ThreadId: 2})
	sink.event(t, debugger.BackendRunning)

	fake.event("output", godap.OutputEventBody{Category: "telemetry", Output: "ignored"})
	fake.event("output", godap.OutputEventBody{Category: "stdout", Output: "hello\n"})
	if ev := sink.event(t, debugger.BackendOutput); ev.Output != "hello\n" {
		t.Errorf("output = %q", ev.Output)
	}

	fake.event("exited", godap.ExitedEventBody{ExitCode: 3})
	if ev := sink.event(t, debugger.BackendExited); ev.ExitCode != 3 {
		t.Errorf("exit code = %d", ev.ExitCode)
	}
	fake.event("terminated", nil)
	sink.event(t, debugger.BackendExited)
}

func TestAdapterDrivesController(t *testing.T) {
	adapters := make(chan *fakeAdapter, 1)
	a := NewAdapter(Options{Connect: pipeConnector(t, adapters), Logger: quietLogger()})
	c, err := debugger.New(debugger.Dependencies{Backend: a, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	events := make(chan debugger.Event, 64)
	c.Subscribe(debugger.SubscriberFunc(func(ev debugger.Event) error {
		events <- ev
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if res, err := c.Submit(debugger.Start()).Wait(ctx); err != nil || res.Err != nil {
		t.Fatalf("start: %v %v", err, res.Err)
	}
	fake := <-adapters
	defer fake.close()

	fake.on("configurationDone", func(req fakeRequest) {
		fake.reply(req, nil, "")
		fake.event("stopped", godap.StoppedEventBody{Reason: "entry", ThreadId: 1})
	})

	if res, err := c.Submit(debugger.Load("/bin/prog")).Wait(ctx); err != nil || res.Err != nil {
		t.Fatalf("load: %v %v", err, res.Err)
	}
	if res, err := c.Submit(debugger.Run()).Wait(ctx); err != nil || res.Err != nil {
		t.Fatalf("run: %v %v", err, res.Err)
	}

	for {
		select {
		case ev := <-events:
			if ev.Kind == debugger.EventProgramStopped {
				if ev.State != debugger.Stopped {
					t.Errorf("stop event state = %s", ev.State)
				}
				if c.State() != debugger.Stopped {
					t.Errorf("state = %s, want stopped", c.State())
				}
				return
			}
		case <-ctx.Done():
			t.Fatal("program never stopped")
		}
	}
}

func TestAdapterIgnoresUnknownMessages(t *testing.T) {
	a, fake, sink := startAdapter(t, Options{})
	fake.on("evaluate", func(req fakeRequest) {
		fake.event("dbgctlCustom", map[string]int{"n": 1})
		fake.reply(req, godap.EvaluateResponseBody{Result: "ok"}, "")
	})

	if err := a.Send(2, debugger.SendRaw("x")); err != nil {
		t.Fatal(err)
	}
	if res := sink.result(t, 2); res.Err != nil || res.Output != "ok" {
		t.Errorf("result = %+v", res)
	}
	fake.event("exited", godap.ExitedEventBody{ExitCode: 0})
	sink.event(t, debugger.BackendExited)
}
