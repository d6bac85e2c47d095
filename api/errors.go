// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the transport.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrNotSupported          = errors.New("operation not supported")
	ErrUnsupportedListenType = errors.New("unsupported listen type")
	ErrThreadStopped         = errors.New("reactor thread is stopped")
	ErrConnectionAborted     = errors.New("the connection was aborted")
	ErrConnectionReset       = errors.New("the connection was reset by the peer")
	ErrConnectionClosed      = errors.New("the connection was closed by the peer")
	ErrServerShutdown        = errors.New("the connection was aborted because the server is shutting down")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeConnectionReset
	ErrCodeConnectionAborted
	ErrCodeIO
	ErrCodeStartup
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the native cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches the sentinel that corresponds to the error code.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case ErrCodeConnectionReset:
		return target == ErrConnectionReset
	case ErrCodeConnectionAborted:
		return target == ErrConnectionAborted
	case ErrCodeInvalidArgument:
		return target == ErrInvalidArgument
	case ErrCodeNotSupported:
		return target == ErrNotSupported
	}
	return false
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// NewConnectionResetError wraps a native reset status.
func NewConnectionResetError(cause error) *Error {
	return NewError(ErrCodeConnectionReset, ErrConnectionReset.Error()).WithCause(cause)
}

// NewIOError wraps any other native failure observed on the socket.
func NewIOError(cause error) *Error {
	return NewError(ErrCodeIO, "i/o error").WithCause(cause)
}

// NewConnectionAbortedError reports an abort with an explicit reason.
func NewConnectionAbortedError(reason string) *Error {
	return NewError(ErrCodeConnectionAborted, reason)
}

// IsConnectionReset reports whether err carries a peer reset.
func IsConnectionReset(err error) bool {
	return errors.Is(err, ErrConnectionReset)
}
