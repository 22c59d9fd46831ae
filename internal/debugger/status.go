package debugger

// StatusText returns the short status-bar text for s.
func StatusText(s State) string {
	switch s {
	case Started:
		return "Started"
	case Loaded:
		return "Loaded"
	case Running:
		return "Running…"
	case Stopped:
		return "Stopped"
	}
	return "Unloaded"
}

// Actions tells views which groups of debugger actions are usable.
type Actions struct {
	// Start covers starting the debugger, loading and attaching.
	Start bool `json:"start"`
	// StopDebugger enables terminating the backend.
	StopDebugger bool `json:"stop_debugger"`
	// Loaded covers actions needing a loaded program (raw commands, restart).
	Loaded bool `json:"loaded"`
	// Stopped covers stepping and run-to actions.
	Stopped bool `json:"stopped"`
	// Running covers interrupting the program.
	Running bool `json:"running"`
	// Toggle is the continue/pause action and ToggleLabel its current label.
	Toggle      bool   `json:"toggle"`
	ToggleLabel string `json:"toggle_label"`
}

// ActionsFor returns the action sensitivity for state s.
func ActionsFor(s State) Actions {
	a := Actions{
		Start:        true,
		StopDebugger: s != Unloaded,
		Loaded:       s == Loaded || s == Running || s == Stopped,
		Stopped:      s == Stopped,
		Running:      s == Running,
		ToggleLabel:  "Run/Continue",
	}
	switch s {
	case Running:
		a.Toggle = true
		a.ToggleLabel = "Pause Program"
	case Stopped:
		a.Toggle = true
	}
	return a
}

// ToggleCommand returns the command the continue/pause action issues in s.
func ToggleCommand(s State) (Command, bool) {
	switch s {
	case Running:
		return Interrupt(), true
	case Loaded, Stopped:
		return Run(), true
	}
	return Command{}, false
}
