package debugger

import "sync"

// mailbox is an unbounded queue of operations for the controller goroutine.
// Posting never blocks.
type mailbox struct {
	mu     sync.Mutex
	ops    []func()
	closed bool
	signal chan struct{}
}

func (m *mailbox) post(op func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.ops = append(m.ops, op)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) ready() <-chan struct{} { return m.signal }

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.ops
	m.ops = nil
	return ops
}

// shut refuses further posts and returns what is left.
func (m *mailbox) shut() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	ops := m.ops
	m.ops = nil
	return ops
}
