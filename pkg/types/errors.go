package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the credential service.
// The set mirrors the OAuth-style taxonomy exposed on the wire.
type ErrorKind string

const (
	ErrKindInvalidRequest    ErrorKind = "invalid_request"
	ErrKindInvalidGrant      ErrorKind = "invalid_grant"
	ErrKindInvalidScope      ErrorKind = "invalid_scope"
	ErrKindInsufficientScope ErrorKind = "insufficient_scope"
	ErrKindPolicyDenied      ErrorKind = "policy_denied"
	ErrKindInvalidDelegation ErrorKind = "invalid_delegation"
	ErrKindTokenExpired      ErrorKind = "token_expired"
	ErrKindTokenRevoked      ErrorKind = "token_revoked"
	ErrKindTransient         ErrorKind = "transient_error"
)

// Error is a classified service error. Reason is safe to return to callers;
// it never carries secrets.
type Error struct {
	Kind   ErrorKind
	Reason string
	cause  error
}

// NewError creates a classified error.
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// WrapError creates a classified error wrapping an underlying cause.
func WrapError(kind ErrorKind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the taxonomy kind of err, or empty if err is not classified.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return KindOf(err) == ErrKindTransient
}
