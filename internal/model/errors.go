package model

import (
	"errors"
	"fmt"
)

// Common errors used across the application
var (
	// Validation errors
	ErrInvalidRequest = errors.New("invalid request")

	// Provisioning errors
	ErrProvisioning      = errors.New("session provisioning failed")
	ErrSessionReleased   = errors.New("session already released")
	ErrSubBatchAborted   = errors.New("sub-batch aborted after an earlier failure")
	ErrRegistration      = errors.New("registration failed")
	ErrRegistrationPanic = errors.New("registration driver panicked")

	// OAuth errors
	ErrInvalidGrant          = errors.New("bad credentials or extra verification required")
	ErrUnauthorizedClient    = errors.New("client does not support the password grant")
	ErrDeviceCodeExpired     = errors.New("device code expired")
	ErrAuthorizationDeclined = errors.New("authorization declined")
	ErrBadVerificationCode   = errors.New("bad verification code")
	ErrMissingRefreshToken   = errors.New("token response has no refresh_token")
	ErrApproval              = errors.New("interactive approval failed")

	// Lifecycle errors
	ErrCancelled = errors.New("cancelled")

	// Storage errors
	ErrAccountNotFound = errors.New("account not found")
	ErrTaskNotFound    = errors.New("task not found")
)

// ErrorKind classifies failures so callers can branch on them
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindProvisioning ErrorKind = "provisioning"
	KindRegistration ErrorKind = "registration"
	KindAborted      ErrorKind = "aborted"
	KindProtocol     ErrorKind = "protocol"
	KindDeclined     ErrorKind = "declined"
	KindExpired      ErrorKind = "expired"
	KindNetwork      ErrorKind = "network"
	KindApproval     ErrorKind = "approval"
	KindCancelled    ErrorKind = "cancelled"
	KindCleanup      ErrorKind = "cleanup"
	KindUnknown      ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindProvisioning, KindNetwork, KindAborted, KindCancelled, KindApproval:
		return true
	default:
		return false
	}
}

// Error is a typed failure carrying a machine-checkable kind
type Error struct {
	Kind  ErrorKind
	Op    string
	Email string
	Err   error
}

// NewError creates a typed error
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithEmail returns a copy of the error bound to an identity
func (e *Error) WithEmail(email string) *Error {
	c := *e
	c.Email = email
	return &c
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Op
	if e.Email != "" {
		msg += " [" + e.Email + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Errorf creates a typed error with a formatted cause
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return NewError(kind, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost typed error in the chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindUnknown
}

// IsRetryable reports whether err is a transient failure
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
