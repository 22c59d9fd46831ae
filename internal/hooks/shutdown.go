package hooks

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/inercia/dbgctl/internal/config"
	"github.com/inercia/dbgctl/internal/logging"
)

// ShutdownFunc performs cleanup. reason describes what triggered shutdown.
type ShutdownFunc func(reason string)

// ShutdownManager runs the shutdown sequence exactly once, whether it is
// triggered by a signal, a surface failing or the user quitting.
//
// The sequence is: stop the up hook, run the down hook, then the
// cleanups in registration order.
type ShutdownManager struct {
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
	reason   string
	cleanups []ShutdownFunc
	sigs     chan os.Signal

	upHook   *Process
	downHook config.Hook
	port     int
}

func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{done: make(chan struct{})}
}

// SetHooks registers the running up hook and the down hook to run on shutdown.
func (sm *ShutdownManager) SetHooks(upHook *Process, downHook config.Hook, port int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.upHook = upHook
	sm.downHook = downHook
	sm.port = port
}

// AddCleanup appends fn to the cleanups.
func (sm *ShutdownManager) AddCleanup(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cleanups = append(sm.cleanups, fn)
}

// Start triggers Shutdown on SIGINT or SIGTERM.
func (sm *ShutdownManager) Start() {
	sm.mu.Lock()
	if sm.sigs != nil {
		sm.mu.Unlock()
		return
	}
	sigs := make(chan os.Signal, 1)
	sm.sigs = sigs
	sm.mu.Unlock()

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			logging.Shutdown().Info("Signal received, shutting down", "signal", sig.String())
			sm.Shutdown("signal:" + sig.String())
		case <-sm.done:
		}
	}()
}

// Shutdown runs the shutdown sequence. Only the first call does any work;
// every call returns once the sequence has completed.
func (sm *ShutdownManager) Shutdown(reason string) {
	sm.once.Do(func() { sm.doShutdown(reason) })
	<-sm.done
}

func (sm *ShutdownManager) doShutdown(reason string) {
	logger := logging.Shutdown()
	logger.Info("Starting shutdown sequence", "reason", reason)

	sm.mu.Lock()
	sm.reason = reason
	upHook, downHook, port := sm.upHook, sm.downHook, sm.port
	cleanups := append([]ShutdownFunc(nil), sm.cleanups...)
	sigs := sm.sigs
	sm.mu.Unlock()

	if sigs != nil {
		signal.Stop(sigs)
	}

	upHook.Stop()
	if err := RunDown(downHook, port); err != nil {
		logger.Warn("Down hook failed", "error", err)
	}

	for i, fn := range cleanups {
		logger.Debug("Running cleanup", "index", i, "total", len(cleanups))
		fn(reason)
	}

	logger.Info("Shutdown sequence complete", "reason", reason)
	close(sm.done)
}

// Done is closed when the shutdown sequence has completed.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// Reason returns what triggered shutdown, or "" before it happens.
func (sm *ShutdownManager) Reason() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.reason
}
