// Package dErrors provides coded domain errors. Services translate
// infrastructure facts (pkg/platform/sentinel) and validation failures into
// these so transports and callers can branch on stable codes instead of
// string matching.
package dErrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain error.
type Code string

const (
	CodeInternal           Code = "internal"
	CodeValidation         Code = "validation"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeBadRequest         Code = "bad_request"
	CodeTimeout            Code = "timeout"

	// Credential and crypto codes used by the security core.
	CodeCredentialInvalid      Code = "credential_invalid"
	CodeCredentialUnconfigured Code = "credential_unconfigured"
	CodeDecryptionFailed       Code = "decryption_failed"
	CodeInvalidContext         Code = "invalid_encryption_context"
	CodeRotationFailed         Code = "rotation_failed"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// Is is an alias for HasCode; it reads better in test assertions.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal if the
// error is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
