// Package errors provides structured error types for the asynchttp client stack.
//
// This package provides:
//   - Sentinel errors for common error conditions
//   - Error codes for categorizing failures surfaced to callers
//   - Error wrapping with context preservation
//   - Package-scoped sentinels for the pool, transport, TLS and container layers
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for categorizing errors.
const (
	CodeInternal      = 1  // Unexpected internal failure
	CodeConfiguration = 2  // Invalid or unsupported configuration
	CodeInvalidInput  = 3  // Invalid argument supplied by a caller
	CodeState         = 4  // Operation not allowed in the current lifecycle state
	CodeClosed        = 5  // Resource already closed
	CodeTimeout       = 6  // Deadline exceeded
	CodeConnection    = 7  // Dial or I/O failure
	CodeTLS           = 8  // TLS setup or handshake failure
	CodeNotFound      = 9  // Component not registered
	CodeConflict      = 10 // Component already registered
	CodeCanceled      = 11 // Caller canceled the operation
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a resource already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrNotOpen indicates a resource is not open.
	ErrNotOpen = errors.New("not open")

	// ErrAlreadyOpen indicates a resource is already open.
	ErrAlreadyOpen = errors.New("already open")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrTLS indicates TLS material could not be prepared.
	ErrTLS = errors.New("tls error")
)

// Pool errors
var (
	// ErrPoolClosed indicates the connection pool has been closed.
	ErrPoolClosed = fmt.Errorf("pool: %w", ErrClosed)

	// ErrPoolExhausted indicates no connection slot became available in time.
	ErrPoolExhausted = errors.New("pool: connection pool exhausted")

	// ErrPoolInvalidConfig indicates the pool builder rejected its settings.
	ErrPoolInvalidConfig = fmt.Errorf("pool: %w", ErrConfiguration)

	// ErrGarlicUnavailable indicates an .i2p host was dialed without an I2P session.
	ErrGarlicUnavailable = errors.New("pool: i2p routing not configured")
)

// Transport errors
var (
	// ErrTransportNotStarted indicates Execute was called before Start.
	ErrTransportNotStarted = fmt.Errorf("transport: %w", ErrNotOpen)

	// ErrTransportClosed indicates the async client has been shut down.
	ErrTransportClosed = fmt.Errorf("transport: %w", ErrClosed)

	// ErrTransportInvalidConfig indicates the transport builder rejected its settings.
	ErrTransportInvalidConfig = fmt.Errorf("transport: %w", ErrConfiguration)
)

// TLS errors
var (
	// ErrTLSRootsUnavailable indicates the platform trust store could not be loaded.
	ErrTLSRootsUnavailable = fmt.Errorf("tlsstrategy: system roots: %w", ErrTLS)
)

// Container errors
var (
	// ErrComponentRegistered indicates a component slot is already filled.
	ErrComponentRegistered = fmt.Errorf("container: component %w", ErrAlreadyExists)

	// ErrComponentMissing indicates a component slot is empty.
	ErrComponentMissing = fmt.Errorf("container: component %w", ErrNotFound)

	// ErrContainerState indicates an operation is not allowed in the current state.
	ErrContainerState = fmt.Errorf("container: %w", ErrInvalidState)

	// ErrContainerClosed indicates the container has been torn down.
	ErrContainerClosed = fmt.Errorf("container: %w", ErrClosed)
)

// Config errors
var (
	// ErrUnknownProperty indicates a property key is not recognized.
	ErrUnknownProperty = fmt.Errorf("config: unknown property: %w", ErrInvalidInput)

	// ErrInvalidProperty indicates a property value could not be parsed.
	ErrInvalidProperty = fmt.Errorf("config: %w", ErrConfiguration)
)

// Error is a structured error with a code and a message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a short description of the failure
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// The code is derived from the sentinel the error wraps.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{
		Code:    CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// CodeOf maps an error to its category code.
func CodeOf(err error) int {
	var e *Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotOpen), errors.Is(err, ErrAlreadyOpen):
		return CodeState
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrTLS):
		return CodeTLS
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// IsConfiguration returns true if the error indicates a configuration problem.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsInvalidState returns true if the error indicates an invalid state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
