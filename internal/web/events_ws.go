package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inercia/dbgctl/internal/debugger"
	"github.com/inercia/dbgctl/internal/logging"
)

// Message types sent on the event stream.
const (
	WSMsgTypeSnapshot = "snapshot"
	WSMsgTypeEvent    = "event"
)

// WSMessage is the envelope of every event stream message.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventMessage is a hub event with its error rendered as text.
type EventMessage struct {
	debugger.Event
	Error string `json:"error,omitempty"`
}

// transitionsFilter selects every kind that accompanies a state change.
const transitionsFilter = "transitions"

// parseKinds reads a comma separated list of event kind names. An empty
// list means every kind.
func parseKinds(list string) ([]debugger.EventKind, error) {
	var kinds []debugger.EventKind
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "":
		case transitionsFilter:
			for _, k := range debugger.EventKinds() {
				if k.IsTransition() {
					kinds = append(kinds, k)
				}
			}
		default:
			k, err := debugger.ParseEventKind(name)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// eventsClient is one WebSocket subscriber of the hub.
type eventsClient struct {
	server   *Server
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
	clientIP string
	logger   *slog.Logger

	// events published before the snapshot is queued wait in held
	mu      sync.Mutex
	started bool
	held    []debugger.Event
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_kinds", fmt.Sprintf("Invalid kinds filter: %v", err))
		return
	}

	ip := clientIP(r)
	if !s.tracker.TryAdd(ip) {
		s.logger.Warn("Event stream rejected: too many connections", "client_ip", ip)
		writeErrorJSON(w, http.StatusTooManyRequests, "too_many_connections", "Too many connections")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.tracker.Remove(ip)
		s.logger.Debug("Event stream upgrade failed", "error", err)
		return
	}
	configureConn(conn, s.config.WebSocket)

	client := newEventsClient(s, conn, ip)

	// Subscribe before reading the snapshot, so nothing published in
	// between is lost. The snapshot still goes out first.
	sub := s.ctrl.Subscribe(debugger.SubscriberFunc(client.handleEvent), kinds...)
	client.start(s.ctrl.Snapshot())
	client.logger.Debug("Event stream connected", "kinds", len(kinds))

	go client.writePump()
	client.readPump()

	s.ctrl.Unsubscribe(sub)
	s.tracker.Remove(ip)
	client.logger.Debug("Event stream disconnected")
}

func newEventsClient(s *Server, conn *websocket.Conn, ip string) *eventsClient {
	return &eventsClient{
		server:   s,
		conn:     conn,
		send:     make(chan []byte, s.config.WebSocket.SendBuffer),
		done:     make(chan struct{}),
		clientIP: ip,
		logger:   logging.WithClient(s.logger, uuid.NewString()).With("client_ip", ip),
	}
}

// start queues the snapshot, then the held events it does not cover.
func (c *eventsClient) start(snap debugger.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(WSMsgTypeSnapshot, snap)
	c.started = true
	held := c.held
	c.held = nil
	for _, ev := range held {
		if ev.Seq <= snap.Seq {
			continue
		}
		if c.deliver(ev) != nil {
			return
		}
	}
}

// handleEvent runs on the controller goroutine and must not block.
func (c *eventsClient) handleEvent(ev debugger.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		if len(c.held) >= cap(c.send) {
			c.logger.Warn("Event stream client too slow, dropping")
			c.close()
			return debugger.ErrSubscriberGone
		}
		c.held = append(c.held, ev)
		return nil
	}
	return c.deliver(ev)
}

// deliver queues ev. A client whose buffer is full is dropped as stale.
func (c *eventsClient) deliver(ev debugger.Event) error {
	select {
	case <-c.done:
		return debugger.ErrSubscriberGone
	default:
	}
	if !c.enqueue(WSMsgTypeEvent, EventMessage{Event: ev, Error: ev.Error()}) {
		c.logger.Warn("Event stream client too slow, dropping")
		c.close()
		return debugger.ErrSubscriberGone
	}
	return nil
}

func (c *eventsClient) enqueue(msgType string, data any) bool {
	msg := WSMessage{Type: msgType}
	if data != nil {
		msg.Data, _ = json.Marshal(data)
	}
	msgBytes, _ := json.Marshal(msg)
	select {
	case c.send <- msgBytes:
		return true
	default:
		return false
	}
}

func (c *eventsClient) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readPump only detects disconnection; clients send nothing.
func (c *eventsClient) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *eventsClient) writePump() {
	cfg := c.server.config.WebSocket
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
