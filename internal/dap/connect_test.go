package dap

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/inercia/dbgctl/internal/config"
)

func TestConnectorForReportsUnsandboxedRunner(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	connect, err := ConnectorFor(config.Backend{Name: "delve", Command: "dlv dap"}, nil, t.TempDir(), logger)
	if err != nil || connect == nil {
		t.Fatalf("ConnectorFor: %v", err)
	}
	if !strings.Contains(buf.String(), "Adapter runs without a sandbox") {
		t.Errorf("unsandboxed runner not logged: %s", buf.String())
	}
}

func TestConnectorForNeedsCommandOrAddress(t *testing.T) {
	if _, err := ConnectorFor(config.Backend{Name: "empty"}, nil, t.TempDir(), quietLogger()); err == nil {
		t.Error("expected error for a backend without command or address")
	}
	connect, err := ConnectorFor(config.Backend{Name: "remote", Address: "127.0.0.1:1"}, nil, t.TempDir(), quietLogger())
	if err != nil || connect == nil {
		t.Errorf("socket connector: %v", err)
	}
}
