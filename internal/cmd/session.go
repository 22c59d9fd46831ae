package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/inercia/dbgctl/internal/config"
	"github.com/inercia/dbgctl/internal/dap"
	"github.com/inercia/dbgctl/internal/debugger"
	"github.com/inercia/dbgctl/internal/logging"
	"github.com/inercia/dbgctl/internal/trafficlog"
	"github.com/inercia/dbgctl/internal/watch"
)

// quitTimeout bounds the orderly quit on exit.
const quitTimeout = 5 * time.Second

// debugSession is the controller stack shared by every subcommand.
type debugSession struct {
	backend *config.Backend
	ctrl    *debugger.Controller
	ring    *trafficlog.RingSink
	file    *trafficlog.FileSink
	watcher *watch.Watcher
}

// newDebugSession wires the selected backend to a controller. extra traffic
// sinks are attached alongside the configured ones.
func newDebugSession(extra ...debugger.TrafficSink) (*debugSession, error) {
	b, err := cfg.GetBackend(backendName)
	if err != nil {
		return nil, err
	}
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	backendLogger := logging.WithSessionContext(logging.Backend(), b.Name, "")
	connect, err := dap.ConnectorFor(*b, cfg.Runner, workDir, backendLogger)
	if err != nil {
		return nil, err
	}
	adapter := dap.NewAdapter(dap.Options{
		AdapterID:   b.AdapterID,
		StopOnEntry: b.StopOnEntry,
		Connect:     connect,
		Logger:      backendLogger,
	})

	ctrl, err := debugger.New(debugger.Dependencies{
		Backend: adapter,
		Hub:     debugger.NewHub(logging.Hub()),
		Logger:  logging.Controller(),
	})
	if err != nil {
		return nil, err
	}

	s := &debugSession{
		backend: b,
		ctrl:    ctrl,
		ring:    trafficlog.NewRingSink(cfg.Traffic.RingSize),
	}
	sinks := trafficlog.Tee{s.ring}
	path := trafficFile
	if path == "" {
		path = cfg.Traffic.File
	}
	if path != "" {
		s.file, err = trafficlog.NewFileSink(trafficlog.FileOptions{
			Path:       path,
			MaxSizeMB:  cfg.Traffic.MaxSizeMB,
			MaxBackups: cfg.Traffic.MaxBackups,
		})
		if err != nil {
			ctrl.Close()
			return nil, err
		}
		sinks = append(sinks, s.file)
	}
	sinks = append(sinks, extra...)
	ctrl.AttachTrafficSink(sinks)

	if cfg.Watch.Enabled {
		w, err := watch.New(ctrl, logging.Watch())
		if err != nil {
			// Not fatal: the session works without rebuild notifications.
			logging.Watch().Warn("Program watcher unavailable", "error", err)
		} else {
			w.SetDebounceDelay(cfg.Watch.Debounce)
			w.Start()
			ctrl.Subscribe(w, watch.Kinds()...)
			s.watcher = w
		}
	}
	return s, nil
}

// Close quits the backend if a session is open, then stops the controller.
func (s *debugSession) Close() {
	if s.ctrl.State() != debugger.Unloaded {
		ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		if _, err := s.ctrl.Quit().Wait(ctx); err != nil {
			logging.Controller().Warn("Quit on exit failed", "error", err)
		}
		cancel()
	}
	s.ctrl.Close()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.file != nil {
		_ = s.file.Close()
	}
}
