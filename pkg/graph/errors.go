package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes. Every failure surfaced by grom carries exactly one of these;
// callers branch on ErrorCode, never on message text.
const (
	EInternal    = "internal error"
	EInvalid     = "invalid"           // malformed input, failed validation
	ENotFound    = "not found"         // entity or schema missing
	EConflict    = "conflict"          // uniqueness or key violation
	EUnsupported = "unsupported"       // query shape has no translation
	ETxState     = "transaction state" // operation on a non-active transaction
)

// Error is the single structured error kind used across the module.
//
// Code classifies the failure, Msg carries the human-readable detail, Op
// names the operation that failed, and Err holds any wrapped cause. Context
// cancellation is deliberately NOT wrapped in Error: context.Canceled and
// context.DeadlineExceeded pass through call stacks untouched so callers can
// always tell "cancelled" apart from "failed".
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface by concatenating the operation,
// code, and message of the error chain.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		fmt.Fprintf(&b, "%s: ", e.Op)
	}
	if e.Err != nil {
		if e.Msg != "" {
			fmt.Fprintf(&b, "%s: ", e.Msg)
		}
		b.WriteString(e.Err.Error())
	} else {
		if e.Code != "" {
			fmt.Fprintf(&b, "<%s>", e.Code)
			if e.Msg != "" {
				b.WriteString(" ")
			}
		}
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Errorf constructs an *Error from a format string. The result carries no
// code; wrap it or set one explicitly where classification matters.
func Errorf(format string, a ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, a...)}
}

// ErrorCode returns the first code found walking the error chain, or
// EInternal when the chain carries none. A nil error yields "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return EInternal
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Err != nil {
		return ErrorCode(e.Err)
	}
	return EInternal
}

// ErrorOp returns the first operation name found walking the error chain.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return ""
	}
	if e.Op != "" {
		return e.Op
	}
	return ErrorOp(e.Err)
}

// ErrorMessage returns the first message found walking the error chain, or
// a generic fallback when the chain carries none.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return "an internal error has occurred"
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return ErrorMessage(e.Err)
	}
	return "an internal error has occurred"
}
