package dap

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	godap "github.com/google/go-dap"

	"github.com/inercia/dbgctl/internal/debugger"
)

// fakeRequest is a request as the adapter sees it, arguments undecoded.
type fakeRequest struct {
	godap.Request
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// fakeAdapter plays the adapter side of a net.Pipe.
type fakeAdapter struct {
	t  *testing.T
	tr *RawTransport

	mu       sync.Mutex
	seq      int
	handlers map[string]func(req fakeRequest)
	requests chan fakeRequest
}

func newFakeAdapter(t *testing.T, conn net.Conn) *fakeAdapter {
	f := &fakeAdapter{
		t:        t,
		tr:       NewRawTransport(conn),
		handlers: make(map[string]func(req fakeRequest)),
		requests: make(chan fakeRequest, 64),
	}
	f.on("initialize", func(req fakeRequest) {
		f.reply(req, godap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsGotoTargetsRequest:       true,
		}, "")
	})
	f.on("stackTrace", func(req fakeRequest) {
		f.reply(req, godap.StackTraceResponseBody{StackFrames: []godap.StackFrame{{
			Id:                          7,
			Name:                        "main.main",
			Source:                      &godap.Source{Path: "/src/main.go"},
			Line:                        12,
			InstructionPointerReference: "0x4a5b",
		}}}, "")
	})
	go f.serve()
	return f
}

func (f *fakeAdapter) on(command string, fn func(req fakeRequest)) {
	f.mu.Lock()
	f.handlers[command] = fn
	f.mu.Unlock()
}

func (f *fakeAdapter) serve() {
	for {
		content, err := f.tr.Receive()
		if err != nil {
			return
		}
		var req fakeRequest
		if err := json.Unmarshal(content, &req); err != nil {
			continue
		}
		f.mu.Lock()
		fn := f.handlers[req.Command]
		f.mu.Unlock()

		f.requests <- req
		if fn != nil {
			fn(req)
		} else {
			f.reply(req, nil, "")
		}
	}
}

func (f *fakeAdapter) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

// reply answers req. A non-empty failure sends an error response.
func (f *fakeAdapter) reply(req fakeRequest, body any, failure string) {
	resp := godap.Response{
		ProtocolMessage: godap.ProtocolMessage{Seq: f.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Success:         failure == "",
		Command:         req.Command,
		Message:         failure,
	}
	if failure != "" {
		f.send(&godap.ErrorResponse{
			Response: resp,
			Body:     godap.ErrorResponseBody{Error: &godap.ErrorMessage{Id: 1, Format: failure}},
		})
		return
	}
	f.send(struct {
		godap.Response
		Body any `json:"body,omitempty"`
	}{resp, body})
}

func (f *fakeAdapter) event(name string, body any) {
	f.send(struct {
		godap.Event
		Body any `json:"body,omitempty"`
	}{godap.Event{
		ProtocolMessage: godap.ProtocolMessage{Seq: f.nextSeq(), Type: "event"},
		Event:           name,
	}, body})
}

func (f *fakeAdapter) send(v any) {
	content, _ := json.Marshal(v)
	_ = f.tr.Send(content)
}

// expect returns the next request and checks its command.
func (f *fakeAdapter) expect(command string) fakeRequest {
	f.t.Helper()
	for {
		select {
		case req := <-f.requests:
			if req.Command == command {
				return req
			}
			if req.Command == "stackTrace" || req.Command == "setBreakpoints" {
				continue
			}
			f.t.Fatalf("adapter received %q, want %q", req.Command, command)
		case <-time.After(2 * time.Second):
			f.t.Fatalf("adapter did not receive %q", command)
		}
	}
}

func (f *fakeAdapter) close() { f.tr.Close() }

type resolution struct {
	token debugger.Token
	res   debugger.Result
}

type fakeSink struct {
	resolved chan resolution
	events   chan debugger.BackendEvent

	mu      sync.Mutex
	traffic []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		resolved: make(chan resolution, 64),
		events:   make(chan debugger.BackendEvent, 64),
	}
}

func (s *fakeSink) Resolve(token debugger.Token, res debugger.Result) {
	s.resolved <- resolution{token, res}
}

func (s *fakeSink) Notify(ev debugger.BackendEvent) { s.events <- ev }

func (s *fakeSink) Traffic(dir debugger.Direction, text string) {
	s.mu.Lock()
	s.traffic = append(s.traffic, dir.String()+" "+text)
	s.mu.Unlock()
}

func (s *fakeSink) trafficLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traffic)
}

func (s *fakeSink) result(t *testing.T, token debugger.Token) debugger.Result {
	t.Helper()
	select {
	case r := <-s.resolved:
		if r.token != token {
			t.Fatalf("resolved token %d, want %d", r.token, token)
		}
		return r.res
	case <-time.After(2 * time.Second):
		t.Fatalf("token %d not resolved", token)
	}
	return debugger.Result{}
}

func (s *fakeSink) event(t *testing.T, kind debugger.BackendEventKind) debugger.BackendEvent {
	t.Helper()
	select {
	case ev := <-s.events:
		if ev.Kind != kind {
			t.Fatalf("event kind %d, want %d", ev.Kind, kind)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event of kind %d", kind)
	}
	return debugger.BackendEvent{}
}

func (s *fakeSink) noEvent(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case ev := <-s.events:
		t.Fatalf("unexpected event kind %d", ev.Kind)
	case <-time.After(within):
	}
}

// pipeConnector hands out one end of a fresh pipe per connect and passes
// the other end to a new fakeAdapter.
func pipeConnector(t *testing.T, adapters chan<- *fakeAdapter) Connector {
	return func(ctx context.Context) (Transport, error) {
		client, server := net.Pipe()
		adapters <- newFakeAdapter(t, server)
		return NewRawTransport(client), nil
	}
}

// startAdapter returns an adapter whose session has completed start.
func startAdapter(t *testing.T, opts Options) (*Adapter, *fakeAdapter, *fakeSink) {
	t.Helper()
	adapters := make(chan *fakeAdapter, 4)
	opts.Connect = pipeConnector(t, adapters)
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	a := NewAdapter(opts)
	sink := newFakeSink()
	a.Bind(sink)

	if err := a.Send(1, debugger.Start()); err != nil {
		t.Fatalf("Send start: %v", err)
	}
	fake := <-adapters
	fake.expect("initialize")
	if res := sink.result(t, 1); res.Err != nil {
		t.Fatalf("start failed: %v", res.Err)
	}
	t.Cleanup(func() { fake.close() })
	return a, fake, sink
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
