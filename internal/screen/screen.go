// Package screen drives GNU screen as the multiplexer behind a session.
//
// The shell runs in a screen session whose log (-L -Logfile) is the
// session's fifo. Input is delivered with `screen -X stuff`, which takes the
// text through a single-quoted sh argument and expands escapes and variables
// itself; escape.Send prepares text for exactly that path.
package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/steveyegge/muxsh/internal/escape"
	"github.com/steveyegge/muxsh/internal/util"
)

// validSessionNameRe restricts names to what survives unquoted in the
// spawn script and in `screen -ls` output.
var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// listEntryRe matches one "<pid>.<name>" entry of `screen -ls`.
var listEntryRe = regexp.MustCompile(`^\s*([0-9]+)\.(\S+)\s`)

// Common errors
var (
	ErrNotInstalled       = errors.New("screen not installed")
	ErrSessionNotFound    = errors.New("screen session not found")
	ErrInvalidSessionName = errors.New("invalid session name")
)

// WindowPlaceholder is replaced by the native window id in the emulator
// command.
const WindowPlaceholder = "{window}"

func validateSessionName(name string) error {
	if name == "" || !validSessionNameRe.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidSessionName, name, validSessionNameRe.String())
	}
	return nil
}

// Screen is the session.Multiplexer backed by GNU screen.
type Screen struct {
	emulator string
	retry    util.RetryConfig
}

// New returns a Screen that embeds windowed sessions with emulator, a
// command prefix containing WindowPlaceholder.
func New(emulator string) *Screen {
	return &Screen{
		emulator: emulator,
		retry:    util.DefaultRetryConfig(),
	}
}

// Name returns "screen".
func (s *Screen) Name() string { return "screen" }

// SpawnCommand returns a script that recovers the screen session named
// identity if one is listed and otherwise creates it, logging to transport.
//
// With a window the script runs inside the emulator, which attaches to the
// session. Without one the session is created detached, and the script
// blocks for its lifetime so the spawned process tracks the shell. A
// detached session that already exists is pointed at transport instead.
func (s *Screen) SpawnCommand(identity, transport, window string) string {
	listed := fmt.Sprintf(`screen -ls | grep -qE '[0-9]+[.]%s[[:space:]]'`, identity)

	if window == "" {
		return fmt.Sprintf(
			"if %s; then screen -S %s -X logfile %s; screen -S %s -X log on; "+
				"else screen -DmS %s -L -Logfile %s; fi",
			listed, identity, shellQuote(transport), identity,
			identity, shellQuote(transport),
		)
	}

	inner := fmt.Sprintf(
		`if %s; then screen -r "%s"; else screen -S "%s" -L -Logfile "%s"; fi`,
		listed, identity, identity, transport,
	)
	emulator := strings.ReplaceAll(s.emulator, WindowPlaceholder, window)
	return fmt.Sprintf("%s '%s'", emulator, escape.Send(inner))
}

// Escape prepares text for Stuff.
func (s *Screen) Escape(text string) string { return escape.Send(text) }

// Stuff types escaped into the session and waits for the client to return.
func (s *Screen) Stuff(identity, escaped string) error {
	if err := validateSessionName(identity); err != nil {
		return err
	}
	script := fmt.Sprintf("screen -S '%s' -X stuff '%s'", identity, escaped)
	return util.Retry(context.Background(), s.retry, func() error {
		_, err := s.runShell(script)
		return err
	})
}

// Ready turns off log buffering so output reaches the fifo as it is
// written.
func (s *Screen) Ready(identity string) error {
	if err := validateSessionName(identity); err != nil {
		return err
	}
	_, err := s.run(identity, "logfile", "flush", "0")
	return err
}

// Quit ends every screen session named identity, including duplicates left
// by earlier runs.
func (s *Screen) Quit(identity string) error {
	if err := validateSessionName(identity); err != nil {
		return err
	}
	entries, err := s.ListSessions()
	if err != nil {
		return err
	}

	var errs []error
	for _, entry := range entries {
		if sessionName(entry) != identity {
			continue
		}
		if _, err := s.run(entry, "quit"); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AttachHint returns the command that attaches to the session.
func (s *Screen) AttachHint(identity string) string {
	return "screen -r " + identity
}

// ListSessions returns the "<pid>.<name>" entries of `screen -ls`.
func (s *Screen) ListSessions() ([]string, error) {
	if _, err := exec.LookPath("screen"); err != nil {
		return nil, ErrNotInstalled
	}
	// screen -ls exits non-zero even when it lists sessions.
	out, _ := exec.Command("screen", "-ls").Output()
	return parseList(string(out)), nil
}

// HasSession reports whether a session named name is listed.
func (s *Screen) HasSession(name string) (bool, error) {
	entries, err := s.ListSessions()
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if sessionName(entry) == name {
			return true, nil
		}
	}
	return false, nil
}

func parseList(out string) []string {
	var entries []string
	for _, line := range strings.Split(out, "\n") {
		if m := listEntryRe.FindStringSubmatch(line + " "); m != nil {
			entries = append(entries, m[1]+"."+m[2])
		}
	}
	return entries
}

func sessionName(entry string) string {
	_, name, _ := strings.Cut(entry, ".")
	return name
}

// run executes `screen -S session -X args...` and returns stdout.
func (s *Screen) run(session string, args ...string) (string, error) {
	full := append([]string{"-S", session, "-X"}, args...)
	return s.exec(exec.Command("screen", full...), args[0])
}

// runShell executes script with sh, for commands whose quoting screen
// expects a shell to have applied.
func (s *Screen) runShell(script string) (string, error) {
	return s.exec(exec.Command("sh", "-c", script), "stuff")
}

func (s *Screen) exec(cmd *exec.Cmd, what string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapError(err, stdout.String()+stderr.String(), what)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapError maps screen's messages to the package errors. screen reports
// most failures on stdout.
func wrapError(err error, output, what string) error {
	output = strings.TrimSpace(output)

	if errors.Is(err, exec.ErrNotFound) {
		return ErrNotInstalled
	}
	if strings.Contains(output, "No screen session found") ||
		strings.Contains(output, "There is no screen to be") {
		return ErrSessionNotFound
	}

	if output != "" {
		return fmt.Errorf("screen %s: %s", what, output)
	}
	return fmt.Errorf("screen %s: %w", what, err)
}

// shellQuote single-quotes s for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
