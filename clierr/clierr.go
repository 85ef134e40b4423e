// Package clierr defines the error taxonomy of a scoring run. Errors carry a
// machine-readable code, a human-readable message and optional details, and
// map onto the process exit code at the CLI boundary.
package clierr

import (
	"errors"
	"fmt"
)

// Error codes. Stable across minor versions; they appear in JSON output.
const (
	ParseError        = "PARSE_ERROR"
	PatchConflict     = "PATCH_CONFLICT"
	CollaboratorError = "COLLABORATOR_ERROR"
	CacheCorruption   = "CACHE_CORRUPTION"
	InvalidConfig     = "INVALID_CONFIG"
	InternalError     = "INTERNAL_ERROR"
)

// Error represents a structured run error with a machine-readable code.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code string, err error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// WithDetails returns the error with the given details map attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// ExitCode maps the error code onto a process exit status.
func (e *Error) ExitCode() int {
	switch e.Code {
	case InternalError:
		return 2
	case CacheCorruption:
		return 3
	case PatchConflict:
		return 4
	case CollaboratorError:
		return 5
	default:
		return 1
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" when
// there is none.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// SilentError signals an exit code without additional output.
type SilentError struct {
	Code int
}

func (e *SilentError) Error() string { return fmt.Sprintf("exit %d", e.Code) }
