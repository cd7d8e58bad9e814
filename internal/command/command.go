// Package command holds the record of one command dispatched into a session.
package command

import (
	"fmt"
)

// MaxExitCode is the largest exit status a shell reports.
const MaxExitCode = 255

// Callback is invoked once with the command after its exit code is known.
type Callback func(*Command)

// Command is one dispatched shell command. It is created by the session's
// dispatcher and mutated only on the session's scheduler; other goroutines
// may wait on Done and then read ExitCode.
type Command struct {
	id       uint64
	text     string
	exitCode int
	exited   bool
	callback Callback
	done     chan struct{}
}

// New creates a command record with the given id and trimmed text.
func New(id uint64, text string, cb Callback) *Command {
	c := &Command{
		id:   id,
		text: text,
		done: make(chan struct{}),
	}
	c.SetCallback(cb)
	return c
}

// ID returns the dispatch id embedded in the command's sentinel.
func (c *Command) ID() uint64 { return c.id }

// Text returns the command text as submitted, without the sentinel wrapper.
func (c *Command) Text() string { return c.text }

// ExitCode returns the exit status and whether the command has completed.
func (c *Command) ExitCode() (int, bool) {
	return c.exitCode, c.exited
}

// Done is closed once the exit code has been recorded.
func (c *Command) Done() <-chan struct{} { return c.done }

// SetExitCode records code if none has been recorded yet and code is a valid
// shell status. It reports whether the code was taken. The callback, if any,
// runs before SetExitCode returns.
func (c *Command) SetExitCode(code int) bool {
	if c.exited || code < 0 || code > MaxExitCode {
		return false
	}
	c.exitCode = code
	c.exited = true
	close(c.done)
	c.fire()
	return true
}

// SetCallback replaces the completion callback. If the command has already
// completed, fn runs immediately.
func (c *Command) SetCallback(fn Callback) {
	c.callback = fn
	if c.exited {
		c.fire()
	}
}

func (c *Command) fire() {
	if c.callback != nil {
		c.callback(c)
	}
}

// String implements fmt.Stringer.
func (c *Command) String() string {
	if c.exited {
		return fmt.Sprintf("#%d %q (exit %d)", c.id, c.text, c.exitCode)
	}
	return fmt.Sprintf("#%d %q (running)", c.id, c.text)
}
