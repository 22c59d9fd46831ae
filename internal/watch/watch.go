// Package watch notices when the loaded program's file is rebuilt.
package watch

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/inercia/dbgctl/internal/debugger"
)

// DefaultDebounce is how long writes must settle before a change is reported.
const DefaultDebounce = 500 * time.Millisecond

// Notifier is told about program image changes. *debugger.Controller
// implements it.
type Notifier interface {
	ProgramImageChanged(path string)
}

// Watcher follows the program of the current session. It is a hub
// subscriber: program-loaded starts watching, debugger-stopped stops.
//
// The containing directory is watched rather than the file, so the image
// is still followed when a build replaces it with a rename.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	program  string
	dir      string
	debounce time.Duration
	timer    *time.Timer

	target Notifier
	logger *slog.Logger

	// latest program requested by HandleEvent, "" to stop watching
	pending *string
	wake    chan struct{}

	done    chan struct{}
	stopped chan struct{}
}

// New creates a watcher reporting to target. Call Start, then Close when done.
func New(target Notifier, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher:  fw,
		debounce: DefaultDebounce,
		target:   target,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// SetDebounceDelay changes the settle time. Non-positive values are ignored.
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Kinds lists the events the watcher subscribes to.
func Kinds() []debugger.EventKind {
	return []debugger.EventKind{debugger.EventProgramLoaded, debugger.EventDebuggerStopped}
}

// Start begins processing file system events.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher. No notification is made after Close returns.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return err
}

// HandleEvent implements debugger.Subscriber. It runs on the controller
// goroutine, so it only records the request; the event loop applies it.
func (w *Watcher) HandleEvent(ev debugger.Event) error {
	switch ev.Kind {
	case debugger.EventProgramLoaded:
		w.request(ev.Program)
	case debugger.EventDebuggerStopped:
		w.request("")
	}
	return nil
}

func (w *Watcher) request(program string) {
	w.mu.Lock()
	w.pending = &program
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watcher) applyPending() {
	w.mu.Lock()
	p := w.pending
	w.pending = nil
	w.mu.Unlock()
	switch {
	case p == nil:
	case *p == "":
		w.Unwatch()
	default:
		if err := w.Watch(*p); err != nil {
			w.logger.Warn("Cannot watch program image", "program", *p, "error", err)
		}
	}
}

// Watch follows path, replacing any previous program.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if abs == w.program {
		return nil
	}
	if w.dir != "" && w.dir != dir {
		_ = w.watcher.Remove(w.dir)
	}
	if w.dir != dir {
		if err := w.watcher.Add(dir); err != nil {
			w.program, w.dir = "", ""
			return err
		}
	}
	w.program, w.dir = abs, dir
	w.logger.Debug("Watching program image", "program", abs)
	return nil
}

// Unwatch stops following the current program.
func (w *Watcher) Unwatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dir != "" {
		_ = w.watcher.Remove(w.dir)
		w.logger.Debug("Stopped watching program image", "program", w.program)
	}
	w.program, w.dir = "", ""
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Program returns the path being followed, if any.
func (w *Watcher) Program() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.program
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
			w.applyPending()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Program watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	name := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.program == "" || name != w.program {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	program := w.program
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(program) })
}

func (w *Watcher) fire(program string) {
	w.mu.Lock()
	current := w.program
	w.timer = nil
	w.mu.Unlock()
	if current != program {
		return
	}
	select {
	case <-w.done:
		return
	default:
	}
	w.logger.Info("Program image changed", "program", program)
	w.target.ProgramImageChanged(program)
}
