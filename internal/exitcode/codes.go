// Package exitcode defines structured exit codes for muxsh commands, so
// scripts can tell a busy identity from a timeout without parsing messages.
//
// # Exit Code Ranges
//
//   - 0: Success
//   - 1-9: General errors (usage, config, internal)
//   - 10-19: Resource not found (session, multiplexer)
//   - 40-49: Timeout errors
//   - 50-59: Conflict/state errors
//
// When every command ran, `muxsh run` exits with the last command's own
// status instead, and that status may overlap these codes.
//
// # Usage
//
//	return exitcode.Busy("muxsh_work")
//	return exitcode.Newf(exitcode.ErrUsage, "unknown multiplexer %q", name)
//
//	code := exitcode.Code(err) // ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments or usage
	ErrInternal = 3 // Internal error (bug)
	ErrConfig   = 4 // Invalid configuration

	// Resource not found (10-19)
	ErrSessionNotFound     = 10 // No multiplexer session with that identity
	ErrMultiplexerNotFound = 11 // screen or tmux is not installed

	// Timeout errors (40-49)
	ErrTimeout = 40 // Operation timed out

	// Conflict/state errors (50-59)
	ErrClosed = 50 // The shell exited before the command finished
	ErrBusy   = 52 // The identity is held by another session
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a code and printf-style message.
func Wrapf(code int, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// Busy returns an error for an identity held by another session.
func Busy(identity string) *Error {
	return Newf(ErrBusy, "session identity in use: %s", identity)
}

// Timeout returns a timeout error.
func Timeout(operation string) *Error {
	return Newf(ErrTimeout, "operation timed out: %s", operation)
}

// SessionNotFound returns an error for a missing multiplexer session.
func SessionNotFound(identity string) *Error {
	return Newf(ErrSessionNotFound, "session not found: %s", identity)
}
