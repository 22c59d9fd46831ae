package dap

import (
	godap "github.com/google/go-dap"
)

const instructionGranularity = "instruction"

// LaunchArguments are the launch properties understood by common adapters.
// The protocol leaves launch and attach arguments adapter-specific.
type LaunchArguments struct {
	Name        string   `json:"name,omitempty"`
	Request     string   `json:"request"`
	Program     string   `json:"program"`
	Args        []string `json:"args,omitempty"`
	Cwd         string   `json:"cwd,omitempty"`
	StopOnEntry bool     `json:"stopOnEntry,omitempty"`
	SourcePaths []string `json:"sourcePaths,omitempty"`
}

// AttachArguments are the attach properties understood by common adapters.
type AttachArguments struct {
	Name        string   `json:"name,omitempty"`
	Request     string   `json:"request"`
	Mode        string   `json:"mode,omitempty"`
	ProcessID   int      `json:"processId"`
	SourcePaths []string `json:"sourcePaths,omitempty"`
}

// newRequest fills the common part of a request. The client assigns Seq.
func newRequest(command string) godap.Request {
	return godap.Request{
		ProtocolMessage: godap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// failureMessage extracts the text of a failed response.
func failureMessage(resp godap.ResponseMessage) string {
	if er, ok := resp.(*godap.ErrorResponse); ok && er.Body.Error != nil && er.Body.Error.Format != "" {
		return er.Body.Error.Format
	}
	return resp.GetResponse().Message
}
