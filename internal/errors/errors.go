package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrConnectionFailed = errors.New("connection failed")
	ErrSessionRejected  = errors.New("session rejected")
	ErrIndexUnavailable = errors.New("index unavailable")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeConnectivity ErrorType = "connectivity"
	ErrorTypeSession      ErrorType = "session"
	ErrorTypeCommand      ErrorType = "command"
	ErrorTypeIndexing     ErrorType = "indexing"
)

// AuthMessage is the only text an authorization failure ever renders to a
// caller. Unknown key, empty grant and unauthorized VM all read the same so
// callers cannot probe which VMs exist or which keys are live.
const AuthMessage = "API key invalid or VM not permitted"

// DenyReason records why authorization actually failed. It travels on the
// error for logs and tests but is never part of the rendered message.
type DenyReason string

const (
	DenyMissingKey   DenyReason = "missing_key"
	DenyUnknownKey   DenyReason = "unknown_key"
	DenyEmptyGrant   DenyReason = "empty_grant"
	DenyVMNotGranted DenyReason = "vm_not_granted"
)

// AuthError is the single authorization failure value.
type AuthError struct {
	Reason DenyReason
	VM     string // requested VM name, if the check was VM-scoped
}

func (e *AuthError) Error() string {
	return AuthMessage
}

// Is implements errors.Is interface
func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// NewAuthError creates an authorization failure with its internal cause.
func NewAuthError(reason DenyReason, vm string) *AuthError {
	return &AuthError{Reason: reason, VM: vm}
}

// OpError is a structured error for remote operations and the log index.
type OpError struct {
	Type      ErrorType
	Op        string // operation that failed (e.g. "run_command", "search")
	VM        string // VM name where the error occurred, if any
	Err       error  // underlying error
	Timestamp time.Time
}

func (e *OpError) Error() string {
	if e.VM != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.VM, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *OpError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnectivity
	case ErrSessionRejected:
		return e.Type == ErrorTypeSession
	case ErrIndexUnavailable:
		return e.Type == ErrorTypeIndexing
	}

	return errors.Is(e.Err, target)
}

// NewOpError creates a new OpError
func NewOpError(errorType ErrorType, op, vm string, err error) *OpError {
	return &OpError{
		Type:      errorType,
		Op:        op,
		VM:        vm,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Helper functions

// WrapConnectivityError wraps a transport-unreachable error with context.
func WrapConnectivityError(op, vm string, err error) error {
	return NewOpError(ErrorTypeConnectivity, op, vm, err)
}

// WrapSessionError wraps a remote-auth or handshake error with context.
func WrapSessionError(op, vm string, err error) error {
	return NewOpError(ErrorTypeSession, op, vm, err)
}

// WrapIndexingError wraps a log-index error with context.
func WrapIndexingError(op string, err error) error {
	return NewOpError(ErrorTypeIndexing, op, "", err)
}

// IsAuthError checks if an error is an authorization failure
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	return errors.As(err, &authErr) || errors.Is(err, ErrUnauthorized)
}

// IsIndexingError checks if an error came from the operation log index
func IsIndexingError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Type == ErrorTypeIndexing
	}
	return errors.Is(err, ErrIndexUnavailable)
}

// TypeOf reports the category of err, or an empty string for plain errors.
func TypeOf(err error) ErrorType {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return ErrorTypeAuth
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Type
	}
	return ""
}
