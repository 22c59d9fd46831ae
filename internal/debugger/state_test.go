package debugger

import "testing"

func TestCanAccept(t *testing.T) {
	tests := []struct {
		state State
		kind  Kind
		want  bool
	}{
		{Unloaded, KindStart, true},
		{Started, KindStart, false},
		{Started, KindLoad, true},
		{Started, KindAttach, true},
		{Loaded, KindLoad, false},
		{Loaded, KindRun, true},
		{Stopped, KindRun, true},
		{Running, KindRun, false},
		{Loaded, KindStepOver, false},
		{Stopped, KindStepOver, true},
		{Stopped, KindRunToAddress, true},
		{Running, KindInterrupt, true},
		{Stopped, KindInterrupt, false},
		{Running, KindSendRaw, true},
		{Started, KindSendRaw, false},
		{Unloaded, KindQuit, false},
		{Running, KindQuit, true},
	}
	for _, tt := range tests {
		if got := CanAccept(tt.state, tt.kind); got != tt.want {
			t.Errorf("CanAccept(%s, %s) = %v, want %v", tt.state, tt.kind, got, tt.want)
		}
	}
}

func TestWaitsForStop(t *testing.T) {
	if !waitsForStop(Running, KindStepIn) {
		t.Error("step-in should wait while running")
	}
	if waitsForStop(Running, KindLoad) {
		t.Error("load can never become legal by stopping")
	}
	if waitsForStop(Loaded, KindStepIn) {
		t.Error("only Running holds commands")
	}
}

func TestMachine_TransitionTable(t *testing.T) {
	var m machine

	if evs := m.commandSucceeded(Start()); len(evs) != 1 || evs[0].Kind != EventDebuggerStarted || m.state != Started {
		t.Fatalf("start: %v state %s", evs, m.state)
	}
	if evs := m.commandSucceeded(Load("/bin/ls")); len(evs) != 1 || m.state != Loaded || m.program != "/bin/ls" {
		t.Fatalf("load: %v state %s", evs, m.state)
	}

	// stop-on-entry
	evs := m.stopped(BackendEvent{Kind: BackendStopped, Reason: "entry", Location: &Location{Address: 0x400000}}, false)
	if m.state != Stopped || len(evs) != 2 || evs[0].Reason != "entry" {
		t.Fatalf("entry stop: %v state %s", evs, m.state)
	}

	// refresh at same location: nothing to say
	if evs := m.stopped(BackendEvent{Kind: BackendStopped, Location: &Location{Address: 0x400000}}, false); len(evs) != 0 {
		t.Errorf("repeated stop produced %v", evs)
	}
	// new frame while stopped: moved only
	evs = m.stopped(BackendEvent{Kind: BackendStopped, Location: &Location{Address: 0x400010}}, false)
	if len(evs) != 1 || evs[0].Kind != EventProgramMoved {
		t.Errorf("frame change produced %v", evs)
	}

	if evs := m.running(); len(evs) != 1 || m.state != Running || m.location != nil {
		t.Fatalf("running: %v state %s", evs, m.state)
	}
	if evs := m.running(); len(evs) != 0 {
		t.Errorf("running while running produced %v", evs)
	}

	if evs := m.exited(1); len(evs) != 1 || evs[0].ExitCode != 1 || m.state != Loaded {
		t.Fatalf("exited: %v state %s", evs, m.state)
	}
	if evs := m.exited(1); len(evs) != 0 {
		t.Errorf("second exit produced %v", evs)
	}

	if evs := m.terminated(nil); len(evs) != 1 || m.state != Unloaded || m.program != "" {
		t.Fatalf("terminated: %v state %s", evs, m.state)
	}
	if evs := m.terminated(nil); len(evs) != 0 {
		t.Errorf("terminated while unloaded produced %v", evs)
	}
}

func TestMachine_StopBeforeFirstRunResolves(t *testing.T) {
	m := machine{state: Loaded}
	evs := m.stopped(BackendEvent{Kind: BackendStopped, Reason: "entry"}, true)
	if len(evs) != 2 || evs[0].Kind != EventProgramRunning || evs[1].Kind != EventProgramStopped {
		t.Fatalf("stop during run: %v", evs)
	}
	if evs := m.commandSucceeded(Run()); len(evs) != 0 || m.state != Stopped {
		t.Errorf("late run resolution: %v state %s", evs, m.state)
	}
}

func TestMachine_SignalWhileStopped(t *testing.T) {
	m := machine{state: Stopped}
	evs := m.signal(BackendEvent{Kind: BackendSignal, Signal: &Signal{Name: "SIGCHLD"}})
	if len(evs) != 1 || evs[0].Kind != EventSignalReceived || m.state != Stopped {
		t.Errorf("signal while stopped: %v state %s", evs, m.state)
	}
}

func TestSignal_IsInterrupt(t *testing.T) {
	if !(Signal{Name: "SIGINT"}).IsInterrupt() {
		t.Error("SIGINT should be an interrupt")
	}
	if (Signal{Name: "SIGTRAP"}).IsInterrupt() {
		t.Error("SIGTRAP is not an interrupt")
	}
}

func TestLocation_String(t *testing.T) {
	tests := []struct {
		loc  Location
		want string
	}{
		{Location{File: "a.c", Line: 3}, "a.c:3"},
		{Location{Address: 0x10}, "0x10"},
		{Location{Function: "main"}, "main"},
		{Location{}, "<unknown>"},
	}
	for _, tt := range tests {
		if got := tt.loc.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
