package hooks

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inercia/dbgctl/internal/config"
)

func TestShutdownManager_ShutdownOnce(t *testing.T) {
	sm := NewShutdownManager()

	var callCount atomic.Int32
	sm.AddCleanup(func(reason string) {
		callCount.Add(1)
	})

	// Call Shutdown multiple times concurrently
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Shutdown("test")
		}()
	}
	wg.Wait()

	// Cleanup should only run once
	if count := callCount.Load(); count != 1 {
		t.Errorf("Cleanup called %d times, expected 1", count)
	}
}

func TestShutdownManager_CleanupOrder(t *testing.T) {
	sm := NewShutdownManager()

	var order []int
	var mu sync.Mutex

	sm.AddCleanup(func(reason string) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	sm.AddCleanup(func(reason string) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	sm.AddCleanup(func(reason string) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
	})

	sm.Shutdown("test")

	mu.Lock()
	defer mu.Unlock()

	if len(order) != 3 {
		t.Fatalf("Expected 3 cleanups, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("Cleanup order wrong: expected %d at position %d, got %d", i+1, i, v)
		}
	}
}

func TestShutdownManager_Reason(t *testing.T) {
	sm := NewShutdownManager()

	if reason := sm.Reason(); reason != "" {
		t.Errorf("Expected empty reason before shutdown, got %q", reason)
	}

	sm.Shutdown("test_reason")

	if reason := sm.Reason(); reason != "test_reason" {
		t.Errorf("Expected reason 'test_reason', got %q", reason)
	}
}

func TestShutdownManager_Done(t *testing.T) {
	sm := NewShutdownManager()

	// Done channel should not be closed before shutdown
	select {
	case <-sm.Done():
		t.Error("Done channel closed before shutdown")
	default:
		// Expected
	}

	sm.Shutdown("test")

	// Done channel should be closed after shutdown
	select {
	case <-sm.Done():
		// Expected
	case <-time.After(time.Second):
		t.Error("Done channel not closed after shutdown")
	}
}

func TestShutdownManager_HooksRunBeforeCleanups(t *testing.T) {
	buf := captureOutput(t)
	sm := NewShutdownManager()

	up := StartUp(config.Hook{Name: "up", Command: "sleep 30"}, 8080)
	if up == nil {
		t.Fatal("StartUp returned nil")
	}
	sm.SetHooks(up, config.Hook{Name: "down", Command: "echo down ${PORT}"}, 8080)

	var outputAtCleanup string
	sm.AddCleanup(func(reason string) {
		outputAtCleanup = buf.String()
	})

	sm.Shutdown("test")

	if outputAtCleanup != "down 8080\n" {
		t.Errorf("output seen by cleanup = %q, want the down hook to have run", outputAtCleanup)
	}
	select {
	case <-up.Exited():
	case <-time.After(5 * time.Second):
		t.Error("up hook still running after shutdown")
	}
}

func TestShutdownManager_ConcurrentCallersWait(t *testing.T) {
	sm := NewShutdownManager()
	release := make(chan struct{})
	sm.AddCleanup(func(string) { <-release })

	go sm.Shutdown("first")
	time.Sleep(20 * time.Millisecond)

	returned := make(chan struct{})
	go func() {
		sm.Shutdown("second")
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("second Shutdown returned before the sequence completed")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("second Shutdown did not return")
	}
	if sm.Reason() != "first" {
		t.Errorf("Reason() = %q, want first", sm.Reason())
	}
}

func TestShutdownManager_NilHooks(t *testing.T) {
	sm := NewShutdownManager()
	sm.Start()
	sm.Shutdown("test")

	select {
	case <-sm.Done():
	case <-time.After(time.Second):
		t.Error("Shutdown did not complete")
	}
}
