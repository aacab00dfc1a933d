// Package errors provides a structured error type with wrapping and metadata
package errors

// Always import the project errors package as perr (platform/errors)

import (
	"context"
	stderrs "errors"
	"fmt"
)

// ErrorCode defines supported error codes used across the archive source
// Values are stable; add sparingly
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeInvalidDateFormat is for dates that do not parse as YYYY-MM-DD
	ErrorCodeInvalidDateFormat

	// ErrorCodeInvalidRange is for an end date before the start date or an hour outside 0..23
	ErrorCodeInvalidRange

	// ErrorCodeInvalidURI is for malformed archive locators
	ErrorCodeInvalidURI

	// ErrorCodeNotFound is for missing archives (local file or 404)
	ErrorCodeNotFound

	// ErrorCodeAlreadyStarted is for configuration attempted after consumption began
	ErrorCodeAlreadyStarted

	// ErrorCodeBusy is for a pull issued while another pull is in flight
	ErrorCodeBusy

	// ErrorCodeFetchTimeout is for an open or read that exceeded the I/O timeout
	ErrorCodeFetchTimeout

	// ErrorCodeFetchError is for network failures, non-2xx statuses and unreadable files
	ErrorCodeFetchError

	// ErrorCodeDecompression is for corrupt or truncated gzip streams
	ErrorCodeDecompression

	// ErrorCodeEventDecode is for a line that is not a decodable event
	ErrorCodeEventDecode

	// ErrorCodeValidation is for option validation failures
	ErrorCodeValidation

	// ErrorCodeCanceled is for pulls abandoned by the caller
	ErrorCodeCanceled

	// ErrorCodeLedger is for checkpoint ledger failures
	ErrorCodeLedger
)

var codeNames = map[ErrorCode]string{
	ErrorCodeUnknown:           "unknown",
	ErrorCodeInvalidDateFormat: "invalid_date_format",
	ErrorCodeInvalidRange:      "invalid_range",
	ErrorCodeInvalidURI:        "invalid_uri",
	ErrorCodeNotFound:          "not_found",
	ErrorCodeAlreadyStarted:    "already_started",
	ErrorCodeBusy:              "busy",
	ErrorCodeFetchTimeout:      "fetch_timeout",
	ErrorCodeFetchError:        "fetch_error",
	ErrorCodeDecompression:     "decompression",
	ErrorCodeEventDecode:       "event_decode",
	ErrorCodeValidation:        "validation",
	ErrorCodeCanceled:          "canceled",
	ErrorCodeLedger:            "ledger",
}

// String returns the snake_case name of the code
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// Error is the structured error type with wrapping and metadata
// msg is human/developer facing; code is machine facing
// field is optional (for validation); op is optional operation tag
// orig is the wrapped cause
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
	op    string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Field returns the offending field, if any
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// Root returns the deepest wrapped cause
func Root(err error) error {
	for err != nil {
		u := stderrs.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
	return nil
}

// CodeOf extracts an ErrorCode from any error, defaulting to Unknown
// context cancellation that never passed through a constructor maps to Canceled
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	if stderrs.Is(err, context.Canceled) {
		return ErrorCodeCanceled
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code ErrorCode) bool { return err != nil && CodeOf(err) == code }

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Mutators (copy-on-write)

// WithField attaches a field to an *Error (copy-on-write). If err isn't *Error, returns err unchanged
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp attaches an operation label to an *Error (copy-on-write). If err isn't *Error, returns err unchanged
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// Constructors

// New returns a new *Error with the given code and message
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WrapIf wraps only when err != nil (helper for 1-liners)
func WrapIf(err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, msg)
}

// Sugar

// InvalidDatef returns an invalid date format error
func InvalidDatef(format string, a ...any) error { return Newf(ErrorCodeInvalidDateFormat, format, a...) }

// InvalidRangef returns an invalid range error
func InvalidRangef(format string, a ...any) error { return Newf(ErrorCodeInvalidRange, format, a...) }

// InvalidURIf returns an invalid uri error
func InvalidURIf(format string, a ...any) error { return Newf(ErrorCodeInvalidURI, format, a...) }

// NotFoundf returns a not found error
func NotFoundf(format string, a ...any) error { return Newf(ErrorCodeNotFound, format, a...) }

// AlreadyStartedf returns an already started error
func AlreadyStartedf(format string, a ...any) error { return Newf(ErrorCodeAlreadyStarted, format, a...) }

// Busyf returns a busy error
func Busyf(format string, a ...any) error { return Newf(ErrorCodeBusy, format, a...) }

// FetchTimeoutf returns a fetch timeout error
func FetchTimeoutf(format string, a ...any) error { return Newf(ErrorCodeFetchTimeout, format, a...) }

// FetchErrf returns a fetch error
func FetchErrf(format string, a ...any) error { return Newf(ErrorCodeFetchError, format, a...) }

// Validationf returns a validation error
func Validationf(format string, a ...any) error { return Newf(ErrorCodeValidation, format, a...) }

// Stream semantics

// Fatal reports whether the error terminates a stream cursor
// EventDecode is recoverable unless the caller escalates it by policy
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrorCodeEventDecode, ErrorCodeBusy:
		return false
	default:
		return true
	}
}

// Retryable reports whether a caller-level retry of the whole archive may succeed
// The source itself never retries; this only classifies
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrs.Is(err, context.Canceled) {
		return false
	}
	var t interface{ Temporary() bool }
	if stderrs.As(err, &t) && t.Temporary() {
		return true
	}
	switch CodeOf(err) {
	case ErrorCodeFetchTimeout, ErrorCodeBusy:
		return true
	default:
		return false
	}
}
