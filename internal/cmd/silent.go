package cmd

import (
	"errors"
	"fmt"
)

// SilentExitError ends the process with Code without printing anything.
// `muxsh run` uses it to pass a command's exit status through.
type SilentExitError struct {
	Code int
}

func (e *SilentExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewSilentExit returns a SilentExitError for code.
func NewSilentExit(code int) *SilentExitError {
	return &SilentExitError{Code: code}
}

// IsSilentExit reports whether err asks for a silent exit, and with which
// code.
func IsSilentExit(err error) (int, bool) {
	var se *SilentExitError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
