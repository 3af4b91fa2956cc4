// Package tools holds the capabilities the agent can invoke, the
// registry that names them, and the executor that runs a batch of
// tool calls.
//
// This file defines the error types of tool execution. None of them
// abort a turn: the executor turns each into an error-flagged result
// the model can read.
package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not
// registered.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ValidationError reports arguments that do not satisfy the tool's
// input schema.
type ValidationError struct {
	ToolName string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.ToolName, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExecutionError reports a capability that failed or panicked.
// Message, when set, is the exact text shown to the model; Err is the
// underlying cause and is only logged.
type ExecutionError struct {
	ToolName string
	Message  string
	Err      error
	Panicked bool
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Panicked {
		return fmt.Sprintf("%s failed unexpectedly: %v", e.ToolName, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.ToolName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Fail is how a capability reports a failure with fixed model-facing
// text. The cause is kept for logs.
func Fail(message string, cause error) error {
	return &ExecutionError{Message: message, Err: cause}
}
