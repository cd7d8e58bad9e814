package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/command"
	"github.com/steveyegge/muxsh/internal/config"
	"github.com/steveyegge/muxsh/internal/eventbus"
	"github.com/steveyegge/muxsh/internal/exitcode"
	"github.com/steveyegge/muxsh/internal/lock"
	"github.com/steveyegge/muxsh/internal/screen"
	"github.com/steveyegge/muxsh/internal/session"
	"github.com/steveyegge/muxsh/internal/surface"
	"github.com/steveyegge/muxsh/internal/tmux"
)

// DefaultStartTimeout is how long commands wait for a new shell's first
// output.
const DefaultStartTimeout = 10 * time.Second

// newMultiplexer returns the multiplexer selected by c.
func newMultiplexer(c *config.Config) session.Multiplexer {
	if c.Multiplexer == config.MultiplexerTmux {
		return tmux.New(tmux.WithEmulator(c.Emulator))
	}
	return screen.New(c.Emulator)
}

// resolveIdentity accepts a surface name or a full identity.
func resolveIdentity(name string) string {
	if strings.HasPrefix(name, session.IdentityPrefix) {
		return session.Identity(strings.TrimPrefix(name, session.IdentityPrefix))
	}
	return session.Identity(name)
}

// shell is a session on its own headless surface.
type shell struct {
	surface *surface.Headless
	session *session.Session
	events  <-chan eventbus.Event
	unsub   func()
}

// openShell starts a session named name and waits for its first output.
func openShell(ctx context.Context, name string, startTimeout time.Duration) (*shell, error) {
	name = strings.TrimPrefix(name, session.IdentityPrefix)
	h := surface.New(surface.WithName(name), surface.WithLogger(logger))
	s, err := session.New(h, session.NewOSHost(), newMultiplexer(cfg),
		session.WithConfig(cfg),
		session.WithLogger(logger),
	)
	if err != nil {
		h.Close()
		return nil, exitcode.Wrap(exitcode.ErrConfig, "creating session", err)
	}

	events, unsub := h.Bus().Subscribe()
	sh := &shell{surface: h, session: s, events: events, unsub: unsub}

	var restartErr error
	if err := h.Call(func() { restartErr = s.Restart() }); err != nil {
		sh.Close()
		return nil, err
	}
	if restartErr != nil {
		sh.Close()
		if errors.Is(restartErr, lock.ErrIdentityInUse) {
			return nil, exitcode.Busy(s.Identity())
		}
		return nil, restartErr
	}

	logger.Info("session started", zap.String("identity", s.Identity()), zap.String("fifo", s.TransportPath()))

	timer := time.NewTimer(startTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				sh.Close()
				return nil, errors.New("event bus closed before the shell started")
			}
			if ev.Type == eventbus.EventReady {
				return sh, nil
			}
		case <-timer.C:
			sh.Close()
			return nil, exitcode.Timeout(fmt.Sprintf("waiting for %s to start", s.Identity()))
		case <-ctx.Done():
			sh.Close()
			return nil, ctx.Err()
		}
	}
}

// run dispatches text and waits for it to finish, for the shell to exit, or
// for ctx.
func (sh *shell) run(ctx context.Context, text string, background bool) (*command.Command, error) {
	c, err := sh.session.Submit(ctx, text, background)
	if err != nil {
		return nil, err
	}

	events := sh.events
	for {
		select {
		case <-c.Done():
			return c, nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type == eventbus.EventClosed {
				return c, exitcode.Newf(exitcode.ErrClosed, "shell exited before %q finished", c.Text())
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return c, exitcode.Timeout(c.Text())
			}
			return c, ctx.Err()
		}
	}
}

// pending returns the number of unresolved commands.
func (sh *shell) pending() int {
	n := 0
	_ = sh.surface.Call(func() { n = sh.session.Pending() })
	return n
}

// Close ends the session and its surface.
func (sh *shell) Close() {
	sh.unsub()
	_ = sh.surface.Call(func() {
		if err := sh.session.Close(); err != nil {
			logger.Warn("closing session", zap.Error(err))
		}
	})
	sh.surface.Close()
}
