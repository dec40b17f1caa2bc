// Package objcodec implements canonical object encoding, content-addressed
// identifiers, and detached-signature verification for the CYFS object
// model.
package objcodec

import (
	"errors"
	"fmt"
	"time"
)

// Code enumerates the abstract error kinds shared by every component in
// the object-delivery core (spec §7). Components wrap Code in their own
// domain error where useful, but never invent a parallel taxonomy.
type Code string

const (
	CodeNotFound          Code = "NotFound"
	CodeAlreadyExists     Code = "AlreadyExists"
	CodeInvalidFormat     Code = "InvalidFormat"
	CodeInvalidData       Code = "InvalidData"
	CodeUnmatch           Code = "Unmatch"
	CodePermissionDenied  Code = "PermissionDenied"
	CodeErrorState        Code = "ErrorState"
	CodeTimeout           Code = "Timeout"
	CodeConnectionAborted Code = "ConnectionAborted"
	CodeInterrupted       Code = "Interrupted"
	CodeUnSupport         Code = "UnSupport"
	CodeInternalError     Code = "InternalError"
	CodeRedirect          Code = "Redirect"
)

// Error is the one structured error type threaded through every package in
// this module (spec §7: "a failing request always produces a single
// structured error, never partial success").
type Error struct {
	Code      Code
	Message   string
	Timestamp time.Time
	Retryable bool
	Cause     error

	// Redirect carries the follow-up hint when Code == CodeRedirect.
	Redirect      string
	RedirectRefer string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, retryable bool, format string, args ...interface{}) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

func NewNotFound(format string, args ...interface{}) *Error {
	return newErr(CodeNotFound, false, format, args...)
}

func NewAlreadyExists(format string, args ...interface{}) *Error {
	return newErr(CodeAlreadyExists, false, format, args...)
}

func NewInvalidFormat(format string, args ...interface{}) *Error {
	return newErr(CodeInvalidFormat, false, format, args...)
}

func NewInvalidData(format string, args ...interface{}) *Error {
	return newErr(CodeInvalidData, false, format, args...)
}

func NewUnmatch(format string, args ...interface{}) *Error {
	return newErr(CodeUnmatch, false, format, args...)
}

func NewPermissionDenied(format string, args ...interface{}) *Error {
	return newErr(CodePermissionDenied, false, format, args...)
}

func NewErrorState(format string, args ...interface{}) *Error {
	return newErr(CodeErrorState, true, format, args...)
}

func NewTimeout(format string, args ...interface{}) *Error {
	return newErr(CodeTimeout, true, format, args...)
}

func NewConnectionAborted(format string, args ...interface{}) *Error {
	return newErr(CodeConnectionAborted, true, format, args...)
}

func NewInterrupted(format string, args ...interface{}) *Error {
	return newErr(CodeInterrupted, false, format, args...)
}

func NewUnSupport(format string, args ...interface{}) *Error {
	return newErr(CodeUnSupport, false, format, args...)
}

func NewInternalError(format string, args ...interface{}) *Error {
	return newErr(CodeInternalError, false, format, args...)
}

// NewRedirect builds the transport-layer redirect carried instead of a
// terminal failure (spec §4.4 RespInterest.redirect).
func NewRedirect(target, refer string) *Error {
	e := newErr(CodeRedirect, false, "redirected to %s", target)
	e.Redirect = target
	e.RedirectRefer = refer
	return e
}

func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	e := newErr(code, false, format, args...)
	e.Cause = cause
	return e
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// IsRetryable reports whether the propagation policy of spec §7 permits a
// single retry against an alternate path/source.
func IsRetryable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	return false
}
