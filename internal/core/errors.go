// Package core defines the error taxonomy and operation surface shared by
// every component of the upload and asset storage engine.
package core

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds the engine ever returns.
type Kind string

const (
	KindNotFound         Kind = "NotFound"
	KindInvalidArgument  Kind = "InvalidArgument"
	KindInvalidState     Kind = "InvalidState"
	KindOutOfRange       Kind = "OutOfRange"
	KindTooLarge         Kind = "TooLarge"
	KindConflict         Kind = "Conflict"
	KindHashMismatch     Kind = "HashMismatch"
	KindLengthMismatch   Kind = "LengthMismatch"
	KindIncompleteUpload Kind = "IncompleteUpload"
	KindUnauthorized     Kind = "Unauthorized"
	KindAlreadyExists    Kind = "AlreadyExists"
	KindInternal         Kind = "Internal"
)

// Error is the sole error type returned across the operation surface.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, format, args...)
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return newErr(KindInvalidArgument, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return newErr(KindInvalidState, format, args...)
}

func OutOfRange(format string, args ...interface{}) *Error {
	return newErr(KindOutOfRange, format, args...)
}

func TooLarge(format string, args ...interface{}) *Error {
	return newErr(KindTooLarge, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newErr(KindConflict, format, args...)
}

func HashMismatch(format string, args ...interface{}) *Error {
	return newErr(KindHashMismatch, format, args...)
}

func LengthMismatch(format string, args ...interface{}) *Error {
	return newErr(KindLengthMismatch, format, args...)
}

func IncompleteUpload(format string, args ...interface{}) *Error {
	return newErr(KindIncompleteUpload, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newErr(KindUnauthorized, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return newErr(KindAlreadyExists, format, args...)
}

// Internal wraps an underlying failure an invariant violation or a
// lower-layer error (SQL, Redis, filesystem) that must never reach a
// caller unclassified.
func Internal(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), err: err}
}

// As extracts a *Error from an error chain, for callers that only have an
// `error` and need its Kind (e.g. the HTTP layer mapping to status codes).
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
