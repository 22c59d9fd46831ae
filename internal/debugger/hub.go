package debugger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"weak"
)

// ErrSubscriberGone may be returned by a Subscriber that can no longer take
// events. Any error returned from HandleEvent removes the subscriber.
var ErrSubscriberGone = errors.New("subscriber gone")

// Subscriber receives hub notifications. HandleEvent runs on the publishing
// goroutine and must not block.
type Subscriber interface {
	HandleEvent(ev Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ev Event) error

func (f SubscriberFunc) HandleEvent(ev Event) error { return f(ev) }

// Subscription is a revocable handle for one subscriber. It does not keep
// the hub alive.
type Subscription struct {
	id  uint64
	hub weak.Pointer[Hub]
}

// Cancel removes the subscriber. It is safe to call more than once and after
// the hub is gone.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	if h := s.hub.Value(); h != nil {
		h.remove(s.id)
	}
}

type hubEntry struct {
	id    uint64
	sub   Subscriber
	kinds map[EventKind]bool // nil means every kind
	gone  bool               // guarded by Hub.mu
}

func (e *hubEntry) wants(k EventKind) bool {
	return e.kinds == nil || e.kinds[k]
}

// Hub fans notifications out to subscribers synchronously, in subscription
// order.
type Hub struct {
	mu      sync.Mutex
	entries []*hubEntry
	nextID  uint64
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger}
}

// Subscribe registers sub for the given kinds, or for every kind when none
// are given.
func (h *Hub) Subscribe(sub Subscriber, kinds ...EventKind) *Subscription {
	e := &hubEntry{sub: sub}
	if len(kinds) > 0 {
		e.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			e.kinds[k] = true
		}
	}

	h.mu.Lock()
	h.nextID++
	e.id = h.nextID
	h.entries = append(h.entries, e)
	h.mu.Unlock()

	return &Subscription{id: e.id, hub: weak.Make(h)}
}

// Unsubscribe removes the subscription. Unknown subscriptions are ignored.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.remove(s.id)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.id == id {
			e.gone = true
			h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Publish delivers events in order to every interested subscriber. A
// subscriber that panics is skipped for the rest of this call but stays
// subscribed; one that returns an error is removed.
func (h *Hub) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	entries := make([]*hubEntry, len(h.entries))
	copy(entries, h.entries)
	h.mu.Unlock()

	var panicked map[uint64]bool
	for _, ev := range events {
		for _, e := range entries {
			if panicked[e.id] || !e.wants(ev.Kind) || h.isGone(e) {
				continue
			}
			recovered, err := h.deliver(e, ev)
			if recovered != nil {
				if panicked == nil {
					panicked = make(map[uint64]bool)
				}
				panicked[e.id] = true
				h.logger.Error("Subscriber panicked",
					"subscriber", e.id,
					"event", ev.Kind.String(),
					"panic", fmt.Sprint(recovered))
				continue
			}
			if err != nil {
				h.logger.Debug("Dropping stale subscriber",
					"subscriber", e.id,
					"event", ev.Kind.String(),
					"error", err)
				h.remove(e.id)
			}
		}
	}
}

func (h *Hub) isGone(e *hubEntry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return e.gone
}

func (h *Hub) deliver(e *hubEntry, ev Event) (recovered any, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	return nil, e.sub.HandleEvent(ev)
}
