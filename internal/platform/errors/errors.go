// Package errors provides coded domain errors for the relay service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Gate errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeExpired         Code = "EXPIRED"
	CodeSessionFull     Code = "SESSION_FULL"
	CodeChallengeFailed Code = "CHALLENGE_FAILED"

	// Assignment errors
	CodeAvatarsExhausted Code = "AVATARS_EXHAUSTED"
	CodeAssignmentFailed Code = "ASSIGNMENT_FAILED"

	// Channel errors
	CodeMalformedMessage Code = "MALFORMED_MESSAGE"

	// Validation errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Internal message (for logs and clients)
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return CodeUnknown
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// HTTPStatus maps a domain error code to an HTTP status for handler replies.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeExpired, CodeInvalidArgument, CodeMalformedMessage:
		return http.StatusBadRequest
	case CodeSessionFull:
		return http.StatusForbidden
	case CodeChallengeFailed:
		return http.StatusUnauthorized
	case CodeAvatarsExhausted, CodeAssignmentFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
