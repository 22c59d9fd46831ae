package debugger

import (
	"fmt"
	"strconv"
	"strings"
)

// Request is the wire form of a command accepted by the web and MCP
// surfaces. Address is a number in any Go integer syntax ("0x401000").
type Request struct {
	Kind        string   `json:"kind" jsonschema:"command kind, e.g. load, run, step-over, run-to"`
	Program     string   `json:"program,omitempty" jsonschema:"program path for load"`
	Args        []string `json:"args,omitempty" jsonschema:"program arguments for load"`
	WorkDir     string   `json:"work_dir,omitempty" jsonschema:"working directory for load"`
	SourcePaths []string `json:"source_paths,omitempty" jsonschema:"source search paths for load"`
	PID         int      `json:"pid,omitempty" jsonschema:"process id for attach"`
	Target      string   `json:"target,omitempty" jsonschema:"remote target for connect-remote"`
	File        string   `json:"file,omitempty" jsonschema:"source file for run-to and run-from"`
	Line        int      `json:"line,omitempty" jsonschema:"source line for run-to and run-from"`
	Address     string   `json:"address,omitempty" jsonschema:"address for run-to-address and run-from-address"`
	Text        string   `json:"text,omitempty" jsonschema:"raw backend text for send-raw"`
}

// Command converts r into a validated Command.
func (r Request) Command() (Command, error) {
	kind, err := ParseKind(r.Kind)
	if err != nil {
		return Command{}, err
	}
	cmd := Command{
		Kind:        kind,
		Program:     r.Program,
		Args:        r.Args,
		WorkDir:     r.WorkDir,
		SourcePaths: r.SourcePaths,
		PID:         r.PID,
		Target:      r.Target,
		File:        r.File,
		Line:        r.Line,
		Text:        r.Text,
	}
	if kind == KindInterrupt || kind == KindQuit {
		cmd.Priority = Immediate
	}
	if kind == KindRunToAddress || kind == KindRunFromAddress {
		addr, err := ParseAddress(r.Address)
		if err != nil {
			return Command{}, fmt.Errorf("%s: %w", kind, err)
		}
		cmd.Address = addr
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// ParseAddress parses a code address such as "0x401000" or "4198400".
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("address is required")
	}
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

// ParseLocation parses "file:line".
func ParseLocation(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("expected file:line, got %q", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid line in %q", s)
	}
	return s[:i], line, nil
}
