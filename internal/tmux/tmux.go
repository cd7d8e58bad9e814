// Package tmux drives tmux as the multiplexer behind a session.
//
// Output reaches the session's fifo through `pipe-pane`, and input is
// delivered with `send-keys -l`, which takes its argument literally.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/steveyegge/muxsh/internal/util"
)

// WindowPlaceholder is replaced by the native window id in the emulator
// command.
const WindowPlaceholder = "{window}"

// validSessionNameRe validates session names to prevent shell injection
var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Common errors
var (
	ErrNoServer           = errors.New("no tmux server running")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidSessionName = errors.New("invalid session name")
)

// validateSessionName checks that a session name contains only safe
// characters. Dots and colons make tmux targets ambiguous.
func validateSessionName(name string) error {
	if name == "" || !validSessionNameRe.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidSessionName, name, validSessionNameRe.String())
	}
	return nil
}

// Tmux is the session.Multiplexer backed by tmux.
type Tmux struct {
	socketName string // tmux socket name (-L flag), empty = default socket
	emulator   string
	retry      util.RetryConfig
}

// Option configures a Tmux.
type Option func(*Tmux)

// WithSocket targets an isolated tmux server.
func WithSocket(name string) Option {
	return func(t *Tmux) { t.socketName = name }
}

// WithEmulator sets the command prefix used for windowed sessions.
func WithEmulator(emulator string) Option {
	return func(t *Tmux) { t.emulator = emulator }
}

// New returns a Tmux multiplexer.
func New(opts ...Option) *Tmux {
	t := &Tmux{retry: util.DefaultRetryConfig()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "tmux".
func (t *Tmux) Name() string { return "tmux" }

// prefix is the tmux invocation used in spawn scripts.
func (t *Tmux) prefix() string {
	if t.socketName != "" {
		return "tmux -u -L " + t.socketName
	}
	return "tmux -u"
}

// SpawnCommand returns a script that creates the session named identity
// unless it exists, then pipes its pane into transport.
//
// Headless, the script returns once the pipe is set up and nudges the shell
// with an empty line so its prompt reaches the fifo. With a window the
// emulator attaches to the session, creating it if needed.
func (t *Tmux) SpawnCommand(identity, transport, window string) string {
	tm := t.prefix()
	theme := AssignTheme(identity)
	pipe := fmt.Sprintf("pipe-pane -t %s %s", target(identity), shellQuote("cat >> "+shellQuote(transport)))
	style := fmt.Sprintf("set-option -t %s status-style %s", exact(identity), shellQuote(theme.Style()))

	if window == "" {
		return fmt.Sprintf(
			"%[1]s has-session -t %[2]s 2>/dev/null || %[1]s new-session -d -s %[3]s \\; %[4]s; "+
				"%[1]s %[5]s \\; send-keys -t %[6]s Enter",
			tm, exact(identity), identity, style, pipe, target(identity),
		)
	}

	inner := fmt.Sprintf("%s new-session -A -s %s \\; %s \\; %s", tm, identity, style, pipe)
	emulator := strings.ReplaceAll(t.emulator, WindowPlaceholder, window)
	return fmt.Sprintf("%s %s", emulator, shellQuote(inner))
}

// Escape returns text unchanged: send-keys -l takes it literally.
func (t *Tmux) Escape(text string) string { return text }

// Stuff types text into the session's active pane.
func (t *Tmux) Stuff(identity, text string) error {
	if err := validateSessionName(identity); err != nil {
		return err
	}
	return util.Retry(context.Background(), t.retry, func() error {
		_, err := t.run("send-keys", "-t", target(identity), "-l", "--", text)
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return util.MarkPermanent(err)
		}
		return err
	})
}

// Ready does nothing: pipe-pane does not buffer.
func (t *Tmux) Ready(string) error { return nil }

// Quit kills the session. A missing session or server is not an error.
func (t *Tmux) Quit(identity string) error {
	if err := validateSessionName(identity); err != nil {
		return err
	}
	_, err := t.run("kill-session", "-t", exact(identity))
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// AttachHint returns the command that attaches to the session.
func (t *Tmux) AttachHint(identity string) string {
	if t.socketName != "" {
		return fmt.Sprintf("tmux -L %s attach -t %s", t.socketName, identity)
	}
	return "tmux attach -t " + identity
}

// HasSession checks if a session exists (exact match).
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", exact(name))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListSessions returns all session names.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// exact targets the session named name and never a prefix match.
func exact(name string) string { return "=" + name }

// target addresses the active pane of the session named name.
func target(name string) string { return "=" + name + ":" }

// run executes a tmux command and returns stdout.
// All commands include -u for UTF-8 support regardless of locale settings.
func (t *Tmux) run(args ...string) (string, error) {
	allArgs := []string{"-u"}
	if t.socketName != "" {
		allArgs = append(allArgs, "-L", t.socketName)
	}
	allArgs = append(allArgs, args...)
	cmd := exec.Command("tmux", allArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapError wraps tmux errors with context.
func wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") ||
		strings.Contains(stderr, "no current target") ||
		strings.Contains(stderr, "server exited unexpectedly") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrSessionExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") ||
		strings.Contains(stderr, "can't find pane") {
		return ErrSessionNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// shellQuote single-quotes s for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
