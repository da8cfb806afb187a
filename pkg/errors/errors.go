// Package errors defines unified error types for agent session operations.
// Provider, transport, and storage failures are all mapped to these
// standard kinds so callers can branch on classification instead of
// inspecting wrapped causes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an AgentError.
type Kind string

// Error kinds, one per failure category surfaced to callers.
const (
	KindConfig     Kind = "config_error"
	KindConnection Kind = "connection_error"
	KindTool       Kind = "tool_error"
	KindGeneration Kind = "generation_error"
	KindBusy       Kind = "busy"
	KindNotFound   Kind = "not_found"
)

// AgentError is the standard error carried across package boundaries.
// It records what failed, where, and whether retrying could help.
type AgentError struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Op        string `json:"op,omitempty"`
	Retryable bool   `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *AgentError) Unwrap() error {
	return e.cause
}

// WithCause attaches the underlying error and returns the receiver.
func (e *AgentError) WithCause(err error) *AgentError {
	e.cause = err
	return e
}

// NewConfigError reports an invalid or unusable configuration,
// including missing credentials and unknown provider/model selections.
func NewConfigError(op, message string) *AgentError {
	return &AgentError{Kind: KindConfig, Op: op, Message: message}
}

// NewConnectionError reports a transport-level failure reaching a
// remote dependency (MCP server, provider endpoint, store backend).
func NewConnectionError(op, message string) *AgentError {
	return &AgentError{Kind: KindConnection, Op: op, Message: message, Retryable: true}
}

// NewToolError reports a tool invocation that was delivered but failed
// on the remote side.
func NewToolError(op, message string) *AgentError {
	return &AgentError{Kind: KindTool, Op: op, Message: message}
}

// NewGenerationError reports a model call that failed or produced an
// unusable response.
func NewGenerationError(op, message string) *AgentError {
	return &AgentError{Kind: KindGeneration, Op: op, Message: message, Retryable: true}
}

// NewBusyError reports a rejected operation because the session already
// has a message in flight.
func NewBusyError(op string) *AgentError {
	return &AgentError{Kind: KindBusy, Op: op, Message: "a message is already being processed"}
}

// NewNotFoundError reports a lookup for an entity that does not exist.
func NewNotFoundError(op, message string) *AgentError {
	return &AgentError{Kind: KindNotFound, Op: op, Message: message}
}

// KindOf returns the kind of err when it is (or wraps) an AgentError,
// or an empty Kind otherwise.
func KindOf(err error) Kind {
	var ae *AgentError
	if stderrors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an AgentError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
