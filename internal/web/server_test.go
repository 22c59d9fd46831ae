package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inercia/dbgctl/internal/debugger"
	"github.com/inercia/dbgctl/internal/trafficlog"
)

// autoBackend accepts every command and reports success.
type autoBackend struct {
	sink debugger.Sink
}

func (b *autoBackend) Bind(s debugger.Sink) { b.sink = s }

func (b *autoBackend) Send(token debugger.Token, cmd debugger.Command) error {
	go func() {
		b.sink.Traffic(debugger.ToBackend, cmd.String())
		b.sink.Resolve(token, debugger.Result{Output: "ok"})
	}()
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) (*Server, *debugger.Controller, *trafficlog.RingSink) {
	t.Helper()
	ctrl, err := debugger.New(debugger.Dependencies{Backend: &autoBackend{}, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ring := trafficlog.NewRingSink(16)
	ctrl.AttachTrafficSink(ring)
	s := NewServer(cfg, ctrl, ring, quietLogger())
	t.Cleanup(func() {
		s.rateLimiter.Close()
		ctrl.Close()
	})
	return s, ctrl, ring
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStateEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snap := decode[map[string]any](t, rec)
	if snap["state"] != "unloaded" {
		t.Errorf("state = %v", snap["state"])
	}
}

func TestSubmitAndQueryCommand(t *testing.T) {
	s, ctrl, _ := newTestServer(t, Config{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/commands?wait=2s", `{"kind":"start"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	view := decode[HandleView](t, rec)
	if view.Status != debugger.StatusDone || view.Kind != "start" || view.Error != "" || view.Output != "ok" {
		t.Errorf("view = %+v", view)
	}
	if ctrl.State() != debugger.Started {
		t.Errorf("controller state = %s", ctrl.State())
	}

	rec = do(t, h, http.MethodGet, "/api/commands/"+view.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decode[HandleView](t, rec); got.ID != view.ID {
		t.Errorf("got handle %s, want %s", got.ID, view.ID)
	}

	if rec := do(t, h, http.MethodGet, "/api/commands/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown handle status = %d", rec.Code)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	h := s.Handler()

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"not json", "/api/commands", "{"},
		{"unknown kind", "/api/commands", `{"kind":"fly"}`},
		{"missing payload", "/api/commands", `{"kind":"load"}`},
		{"bad wait", "/api/commands?wait=soon", `{"kind":"start"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, tt.target, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSubmitReportsPrecondition(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/commands?wait=2s", `{"kind":"step-over"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decode[HandleView](t, rec)
	if !strings.Contains(view.Error, "precondition failed") {
		t.Errorf("error = %q", view.Error)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	s, _, _ := newTestServer(t, Config{RateLimit: RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 1}})
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/abort", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("first abort = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/abort", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second abort = %d, want 429", rec.Code)
	}
	// reads are not limited
	if rec := do(t, h, http.MethodGet, "/api/state", ""); rec.Code != http.StatusOK {
		t.Errorf("state = %d", rec.Code)
	}
}

func TestLocationEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	h := s.Handler()
	if rec := do(t, h, http.MethodPost, "/api/location", `{"file":"main.c","line":3}`); rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/location", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty location status = %d", rec.Code)
	}
}

func TestTrafficEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/commands?wait=2s", `{"kind":"start"}`)

	rec := do(t, h, http.MethodGet, "/api/traffic", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Lines []trafficlog.Line `json:"lines"`
	}](t, rec)
	if len(body.Lines) == 0 || body.Lines[0].Text != "start" {
		t.Errorf("lines = %+v", body.Lines)
	}

	s.traffic = nil
	if rec := do(t, h, http.MethodGet, "/api/traffic", ""); rec.Code != http.StatusNotFound {
		t.Errorf("disabled traffic status = %d", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	s, ctrl, _ := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSMsgTypeSnapshot {
		t.Fatalf("first message = %s", msg.Type)
	}

	ctrl.Submit(debugger.Start())
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	var ev map[string]any
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSMsgTypeEvent || ev["kind"] != "debugger-started" {
		t.Errorf("got %s %v", msg.Type, ev)
	}
}

func TestEventStreamKindsFilter(t *testing.T) {
	s, ctrl, _ := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?kinds=program-loaded"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != WSMsgTypeSnapshot {
		t.Fatalf("first message = %s, %v", msg.Type, err)
	}

	ctrl.Submit(debugger.Start())
	ctrl.Submit(debugger.Load("/bin/prog"))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	var ev map[string]any
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev["kind"] != "program-loaded" {
		t.Errorf("first event = %v, want program-loaded only", ev["kind"])
	}
}

func TestEventStreamRejectsUnknownKind(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/events?kinds=program-paused", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("")
	if err != nil || len(kinds) != 0 {
		t.Errorf("empty filter = %v, %v", kinds, err)
	}
	kinds, err = parseKinds("program-output, transitions")
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 7 || kinds[0] != debugger.EventProgramOutput {
		t.Errorf("kinds = %v", kinds)
	}
	for _, k := range kinds[1:] {
		if !k.IsTransition() {
			t.Errorf("%s is not a transition", k)
		}
	}
}

func TestEventsClientQueuesSnapshotFirst(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	c := newEventsClient(s, nil, "127.0.0.1")

	// published while the snapshot was being read
	c.handleEvent(debugger.Event{Seq: 3, Kind: debugger.EventProgramRunning})
	c.handleEvent(debugger.Event{Seq: 5, Kind: debugger.EventProgramStopped})
	c.start(debugger.Snapshot{State: debugger.Running, Seq: 4})
	c.handleEvent(debugger.Event{Seq: 6, Kind: debugger.EventProgramMoved})

	var types []string
	var seqs []uint64
	for len(c.send) > 0 {
		var msg WSMessage
		if err := json.Unmarshal(<-c.send, &msg); err != nil {
			t.Fatal(err)
		}
		types = append(types, msg.Type)
		if msg.Type == WSMsgTypeEvent {
			var ev struct {
				Seq uint64 `json:"seq"`
			}
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				t.Fatal(err)
			}
			seqs = append(seqs, ev.Seq)
		}
	}
	if len(types) != 3 || types[0] != WSMsgTypeSnapshot {
		t.Fatalf("messages = %v, want snapshot then two events", types)
	}
	if seqs[0] != 5 || seqs[1] != 6 {
		t.Errorf("event seqs = %v, want [5 6]", seqs)
	}
}

func TestHandleRegistryEvictsFinished(t *testing.T) {
	ctrl, err := debugger.New(debugger.Dependencies{Backend: &autoBackend{}, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	r := newHandleRegistry(2)
	var ids []string
	for i := 0; i < 3; i++ {
		// rejected immediately: nothing is loaded
		h := ctrl.Submit(debugger.StepOver())
		<-h.Done()
		r.add(h)
		ids = append(ids, h.ID())
	}
	if r.len() != 2 {
		t.Fatalf("len = %d, want 2", r.len())
	}
	if r.get(ids[0]) != nil {
		t.Error("oldest handle kept")
	}
	if r.get(ids[2]) == nil {
		t.Error("newest handle evicted")
	}
}
