// Package testutil holds polling helpers shared by tests that drive real
// goroutines or real multiplexers.
package testutil

import (
	"strings"
	"testing"
	"time"
)

// PollInterval is how often the helpers re-check their condition.
const PollInterval = 10 * time.Millisecond

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for {
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(PollInterval)
	}
}

// SessionChecker is implemented by the screen and tmux clients.
type SessionChecker interface {
	HasSession(name string) (bool, error)
}

// WaitForSession waits until the multiplexer lists sessionName.
func WaitForSession(t *testing.T, mux SessionChecker, sessionName string, timeout time.Duration) bool {
	t.Helper()
	return Eventually(t, timeout, func() bool {
		exists, _ := mux.HasSession(sessionName)
		return exists
	})
}

// WaitForNoSession waits until the multiplexer no longer lists sessionName.
func WaitForNoSession(t *testing.T, mux SessionChecker, sessionName string, timeout time.Duration) bool {
	t.Helper()
	return Eventually(t, timeout, func() bool {
		exists, err := mux.HasSession(sessionName)
		return err == nil && !exists
	})
}

// Truncate shortens s for log output, showing line breaks.
func Truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > n {
		return s[:n]
	}
	return s
}
