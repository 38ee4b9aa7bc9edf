// Package apperr defines the error taxonomy shared by the compiler, the
// navigation runtime, the results engine and the storage layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that need to react to it
type Kind string

const (
	KindCompile     Kind = "compile"
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindPersistence Kind = "persistence"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string
	// Line is the 1-based notation line for compile errors, 0 otherwise
	Line  int
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Compile creates a positional error for malformed tree notation.
// The message is rendered as "Line N: ...".
func Compile(line int, format string, args ...any) *Error {
	return &Error{
		Kind:    KindCompile,
		Message: fmt.Sprintf("Line %d: %s", line, fmt.Sprintf(format, args...)),
		Line:    line,
	}
}

// Validation creates an error for input that is well-formed but unacceptable
func Validation(format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound creates an error for a missing study, task, tree or attempt
func NotFound(resource string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: resource + " not found",
	}
}

// Persistence wraps an opaque storage failure as "failed to <op>"
func Persistence(op string, cause error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Message: "failed to " + op,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the message of the first *Error in the chain without
// its cause, or "" if none. Persistence causes carry driver text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// LineOf returns the notation line of a compile error, or 0
func LineOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Line
	}
	return 0
}

// HTTPStatus maps an error to the status code the API responds with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindCompile:
		return http.StatusUnprocessableEntity
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
