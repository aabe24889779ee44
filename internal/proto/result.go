package proto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a tool or provider failure. The split between
// retryable and terminal kinds drives the invoker's retry policy:
// transport-level failures are worth another attempt, semantic
// failures are not.
type Kind string

const (
	// KindConnection means the backend was unreachable or timed out.
	// This is the only retryable kind.
	KindConnection Kind = "connection_error"

	// KindToolNotFound means the tool name resolved to no server.
	KindToolNotFound Kind = "tool_not_found"

	// KindArgument means the arguments failed schema validation.
	KindArgument Kind = "argument_error"

	// KindExecution means the backend ran the tool and reported failure.
	KindExecution Kind = "tool_execution_error"

	// KindProviderUnavailable means the model backend itself is down.
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindCancelled means the caller interrupted an in-flight call.
	KindCancelled Kind = "cancelled"
)

// Retryable reports whether a failure of this kind may succeed on a
// fresh attempt against the same backend.
func (k Kind) Retryable() bool {
	return k == KindConnection
}

// Failure is the error half of a tool result.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Result is the normalized outcome of one tool invocation, matching
// the wire format {"ok": true, "result": ...} | {"ok": false, "error": {...}}.
type Result struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"result,omitempty"`
	Err     *Failure        `json:"error,omitempty"`
}

// Success builds an OK result from any JSON-marshalable payload.
func Success(payload any) (Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal result payload: %w", err)
	}
	return Result{OK: true, Payload: data}, nil
}

// Fail builds a failure result.
func Fail(kind Kind, format string, args ...any) Result {
	return Result{OK: false, Err: &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// Error is the Go error carrying a failure classification across
// package boundaries. Wrap transport errors in KindConnection so the
// invoker can tell them apart from semantic failures.
type Error struct {
	Kind    Kind
	Message string
	wrapped error
}

// NewError creates a classified error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, wrapped: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.wrapped }

// Failure converts the error to its wire representation.
func (e *Error) Failure() *Failure {
	msg := e.Message
	if e.wrapped != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return &Failure{Kind: e.Kind, Message: msg}
}

// KindOf extracts the failure kind from any error. Unclassified errors
// are treated as execution failures; context cancellation maps to
// KindCancelled and deadline expiry to KindConnection (a per-attempt
// timeout is a transport failure, not a user interrupt).
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnection
	}
	return KindExecution
}
