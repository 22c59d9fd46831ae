// Package dap drives a debug adapter over the Debug Adapter Protocol and
// exposes it to the session controller as a debugger.Backend.
package dap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	godap "github.com/google/go-dap"
)

// Transport moves framed DAP messages to and from an adapter. Content is
// the JSON body of one message, without its header.
type Transport interface {
	Send(content []byte) error
	Receive() ([]byte, error)
	Close() error
}

// RawTransport frames messages over any io.ReadWriteCloser.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport creates a transport from rwc.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{rwc: rwc, reader: bufio.NewReader(rwc)}
}

func (t *RawTransport) Send(content []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return godap.WriteBaseMessage(t.rwc, content)
}

func (t *RawTransport) Receive() ([]byte, error) { return godap.ReadBaseMessage(t.reader) }

func (t *RawTransport) Close() error { return t.rwc.Close() }

// DialSocket connects to an adapter listening on address.
func DialSocket(ctx context.Context, address string) (*RawTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewRawTransport(conn), nil
}

// ProcessTransport talks to an adapter process over its stdin and stdout.
type ProcessTransport struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	wait   func() error
	cancel context.CancelFunc
	mu     sync.Mutex
	once   sync.Once
}

// NewProcessTransport wraps the pipes of a started process. cancel kills the
// process; wait reaps it. stderr, if not nil, is logged line by line.
func NewProcessTransport(
	stdin io.WriteCloser,
	stdout, stderr io.ReadCloser,
	wait func() error,
	cancel context.CancelFunc,
	logger *slog.Logger,
) *ProcessTransport {
	if stderr != nil {
		go drainStderr(stderr, logger)
	}
	return &ProcessTransport{
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
		wait:   wait,
		cancel: cancel,
	}
}

func drainStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if logger != nil {
			logger.Debug("Adapter stderr", "line", scanner.Text())
		}
	}
}

func (t *ProcessTransport) Send(content []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return godap.WriteBaseMessage(t.stdin, content)
}

func (t *ProcessTransport) Receive() ([]byte, error) { return godap.ReadBaseMessage(t.reader) }

// Close closes the pipes, kills the process and reaps it.
func (t *ProcessTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		t.stdin.Close()
		t.mu.Unlock()
		if t.cancel != nil {
			t.cancel()
		}
		if t.wait != nil {
			err = t.wait()
		}
	})
	return err
}
