package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a configuration or conversation does not
	// exist (or the configuration has been deactivated and the caller did not
	// ask for inactive records).
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a client-supplied session id is already in
	// use by a live conversation.
	ErrConflict = errors.New("already exists")

	// ErrConstructionTimeout is returned to every caller waiting on an agent
	// construction that exceeded the configured bound. The cache key reverts
	// to absent so a later acquire retries.
	ErrConstructionTimeout = errors.New("agent construction timed out")
)

// ValidationError reports malformed create input (duplicate MCP server
// names, empty commands, missing fields).
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
}

// ConstructionError wraps an agent-factory failure. Construction failures
// are never cached; a subsequent acquire for the same configuration retries.
type ConstructionError struct {
	ConfigID string
	Err      error
}

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct agent for configuration %s: %v", e.ConfigID, e.Err)
}

// Unwrap exposes the underlying factory error to errors.Is/As.
func (e *ConstructionError) Unwrap() error { return e.Err }

// ExecutionError wraps an invocation failure after a successful acquire. The
// instance is released and stays cached; this is a content-level failure,
// not a cache-level one.
type ExecutionError struct {
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for session %s: %v", e.SessionID, e.Err)
}

// Unwrap exposes the underlying invocation error to errors.Is/As.
func (e *ExecutionError) Unwrap() error { return e.Err }
