package web

import (
	"fmt"
	"log/slog"
	"net"
)

// LocalhostListener only accepts connections from loopback addresses.
type LocalhostListener struct {
	net.Listener
	logger *slog.Logger
}

// NewLocalhostListener wraps l.
func NewLocalhostListener(l net.Listener, logger *slog.Logger) *LocalhostListener {
	return &LocalhostListener{Listener: l, logger: logger}
}

// Accept returns the next loopback connection and closes any other.
func (l *LocalhostListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if !isLocalhostConnection(conn) {
			if l.logger != nil {
				l.logger.Warn("Rejected non-localhost connection",
					"remote_addr", conn.RemoteAddr().String())
			}
			conn.Close()
			continue
		}
		return conn, nil
	}
}

func isLocalhostConnection(conn net.Conn) bool {
	remoteAddr := conn.RemoteAddr()
	if remoteAddr == nil {
		return false
	}
	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		host = remoteAddr.String()
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// CreateLocalhostListener listens on host:port, which must be a loopback
// address. Port 0 picks a free port; the actual port is returned.
func CreateLocalhostListener(host string, port int, logger *slog.Logger) (*LocalhostListener, int, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, 0, fmt.Errorf("refusing to listen on non-loopback address %s", host)
	}
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualPort := listener.Addr().(*net.TCPAddr).Port
	return NewLocalhostListener(listener, logger), actualPort, nil
}
