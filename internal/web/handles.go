package web

import (
	"sync"

	"github.com/inercia/dbgctl/internal/debugger"
)

// DefaultHandleRetention is how many submitted commands stay queryable.
const DefaultHandleRetention = 256

// handleRegistry remembers submitted commands by handle id. Once full, the
// oldest finished handles are forgotten first.
type handleRegistry struct {
	mu      sync.Mutex
	handles map[string]*debugger.Handle
	order   []string
	max     int
}

func newHandleRegistry(max int) *handleRegistry {
	if max <= 0 {
		max = DefaultHandleRetention
	}
	return &handleRegistry{handles: make(map[string]*debugger.Handle), max: max}
}

func (r *handleRegistry) add(h *debugger.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.ID()] = h
	r.order = append(r.order, h.ID())
	r.evict()
}

func (r *handleRegistry) evict() {
	for len(r.order) > r.max {
		victim := -1
		for i, id := range r.order {
			if h := r.handles[id]; h == nil || isFinished(h) {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		delete(r.handles, r.order[victim])
		r.order = append(r.order[:victim], r.order[victim+1:]...)
	}
}

func (r *handleRegistry) get(id string) *debugger.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id]
}

func (r *handleRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func isFinished(h *debugger.Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

// HandleView is the JSON form of a submitted command.
type HandleView struct {
	ID      string                `json:"id"`
	Command string                `json:"command"`
	Kind    string                `json:"kind"`
	Status  debugger.HandleStatus `json:"status"`
	Output  string                `json:"output,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// NewHandleView describes h.
func NewHandleView(h *debugger.Handle) HandleView {
	v := HandleView{
		ID:      h.ID(),
		Command: h.Command().String(),
		Kind:    h.Kind().String(),
		Status:  h.Status(),
	}
	if res, ok := h.Result(); ok {
		v.Output = res.Output
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
	}
	return v
}
