package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	godap "github.com/google/go-dap"
)

// ErrClientClosed is returned for requests on a closed client.
var ErrClientClosed = errors.New("dap client closed")

// ResponseError is a response with success=false.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed", e.Command)
	}
	return fmt.Sprintf("%s request failed: %s", e.Command, e.Message)
}

// TrafficTap observes every message. outgoing is true for requests.
type TrafficTap func(outgoing bool, content []byte)

// Client correlates DAP requests with responses. Events are handed to the
// event callback in arrival order from a dedicated goroutine, so the
// callback may issue requests of its own.
type Client struct {
	transport Transport
	seq       int64
	pending   map[int]*pendingRequest
	pendingMu sync.Mutex
	tap       TrafficTap

	events *eventQueue

	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
	err       error
	errMu     sync.RWMutex
}

type pendingRequest struct {
	done      chan struct{}
	closeOnce sync.Once
	response  godap.ResponseMessage
	err       error
}

func (p *pendingRequest) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// NewClient starts a client on transport. onEvent receives events in order;
// onClosed runs once after the last event when the receive loop ends, with
// nil if Close was called.
func NewClient(transport Transport, tap TrafficTap, onEvent func(godap.EventMessage), onClosed func(error)) *Client {
	c := &Client{
		transport: transport,
		pending:   make(map[int]*pendingRequest),
		tap:       tap,
		events:    newEventQueue(),
		done:      make(chan struct{}),
	}
	go c.events.run(onEvent, onClosed)
	go c.receiveLoop()
	return c
}

// Done is closed once the receive loop has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that stopped the receive loop, if any.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// Close shuts the transport down. Pending requests fail with ErrClientClosed.
func (c *Client) Close() error {
	c.closing.Store(true)
	return c.transport.Close()
}

func (c *Client) receiveLoop() {
	var loopErr error
	for {
		content, err := c.transport.Receive()
		if err != nil {
			loopErr = err
			break
		}
		if c.tap != nil {
			c.tap(false, content)
		}
		c.handleMessage(content)
	}

	if c.closing.Load() {
		loopErr = nil
	}
	c.errMu.Lock()
	c.err = loopErr
	c.errMu.Unlock()

	failWith := loopErr
	if failWith == nil {
		failWith = ErrClientClosed
	}
	c.pendingMu.Lock()
	for _, req := range c.pending {
		req.err = failWith
		req.close()
	}
	c.pending = make(map[int]*pendingRequest)
	c.pendingMu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.events.close(loopErr)
}

func (c *Client) handleMessage(content []byte) {
	msg, err := godap.DecodeProtocolMessage(content)
	if err != nil {
		// unknown commands and events still carry the generic fields
		msg, err = decodeGeneric(content)
		if err != nil {
			return
		}
	}

	switch m := msg.(type) {
	case godap.ResponseMessage:
		seq := m.GetResponse().RequestSeq
		c.pendingMu.Lock()
		req, ok := c.pending[seq]
		if ok {
			delete(c.pending, seq)
		}
		c.pendingMu.Unlock()
		if ok {
			req.response = m
			req.close()
		}
	case godap.EventMessage:
		c.events.push(m)
	}
}

func decodeGeneric(content []byte) (godap.Message, error) {
	var base godap.ProtocolMessage
	if err := json.Unmarshal(content, &base); err != nil {
		return nil, err
	}
	switch base.Type {
	case "response":
		resp := &godap.Response{}
		return resp, json.Unmarshal(content, resp)
	case "event":
		evt := &godap.Event{}
		return evt, json.Unmarshal(content, evt)
	}
	return nil, fmt.Errorf("unexpected %q message", base.Type)
}

// Request sends req and waits for its response. A failed response is
// returned as a *ResponseError.
func (c *Client) Request(ctx context.Context, req godap.RequestMessage) (godap.ResponseMessage, error) {
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClientClosed
	default:
	}

	seq := int(atomic.AddInt64(&c.seq, 1))
	base := req.GetRequest()
	base.Seq = seq
	base.Type = "request"
	command := base.Command

	content, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	pending := &pendingRequest{done: make(chan struct{})}
	c.pendingMu.Lock()
	c.pending[seq] = pending
	c.pendingMu.Unlock()

	if c.tap != nil {
		c.tap(true, content)
	}
	if err := c.transport.Send(content); err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("send %s request: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.forget(seq)
		return nil, ctx.Err()
	case <-pending.done:
	}

	if pending.err != nil {
		return nil, pending.err
	}
	resp := pending.response
	if !resp.GetResponse().Success {
		return resp, &ResponseError{Command: command, Message: failureMessage(resp)}
	}
	return resp, nil
}

func (c *Client) forget(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// eventQueue is an unbounded FIFO drained by one goroutine. The close
// marker is delivered after every event pushed before it.
type eventQueue struct {
	mu     sync.Mutex
	items  []godap.EventMessage
	closed bool
	err    error
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(evt godap.EventMessage) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close(err error) {
	q.mu.Lock()
	q.closed = true
	q.err = err
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run(onEvent func(godap.EventMessage), onClosed func(error)) {
	for {
		<-q.signal
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				closed, err := q.closed, q.err
				q.mu.Unlock()
				if closed {
					if onClosed != nil {
						onClosed(err)
					}
					return
				}
				break
			}
			evt := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			if onEvent != nil {
				onEvent(evt)
			}
		}
	}
}
