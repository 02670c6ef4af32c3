package domain

import (
	"errors"
	"fmt"
)

// Error codes reported to clients.
const (
	ErrCodeAuthFailed    = "AUTHENTICATION_FAILED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeAccessDenied  = "ACCESS_DENIED"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodePersistence   = "PERSISTENCE_FAILURE"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ErrDuplicate marks a retransmitted message that was suppressed. It is
// never reported to the client.
var ErrDuplicate = errors.New("duplicate suppressed")

// Error is a client reportable failure.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the connection must be closed after reporting e.
func (e *Error) Fatal() bool { return e.Code == ErrCodeAuthFailed }

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func AuthFailed(format string, args ...any) *Error {
	return newError(ErrCodeAuthFailed, format, args...)
}

func Unauthorized() *Error {
	return newError(ErrCodeUnauthorized, "not authenticated")
}

func AccessDenied(format string, args ...any) *Error {
	return newError(ErrCodeAccessDenied, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newError(ErrCodeValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(ErrCodeNotFound, format, args...)
}

func BadRequest(format string, args ...any) *Error {
	return newError(ErrCodeBadRequest, format, args...)
}

// Persistence wraps a store failure.
func Persistence(err error, msg string) *Error {
	return &Error{Code: ErrCodePersistence, Message: msg, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error, msg string) *Error {
	return &Error{Code: ErrCodeInternalError, Message: msg, Err: err}
}

// AsError extracts an *Error from err. Unknown errors become INTERNAL_ERROR.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "internal error")
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
