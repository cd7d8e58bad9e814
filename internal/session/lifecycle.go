package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/telemetry"
)

// Restart starts the session or repairs whatever part of it is missing.
// Calling it again on a healthy session changes nothing.
//
// If the surface is not active yet, Restart arranges to run again when it
// becomes active and returns nil. Only one such arrangement is kept.
func (s *Session) Restart() error {
	if s.state == Destroyed {
		return nil
	}

	if !s.surface.Active() {
		if s.activation == nil {
			s.activation = s.surface.OnActive(func() {
				s.activation = nil
				if err := s.Restart(); err != nil {
					s.log.Error("starting session on activation failed", zap.Error(err))
				}
			})
		}
		if s.state == Unstarted {
			s.state = Starting
		}
		return nil
	}

	if s.unlock == nil {
		unlock, err := s.host.Lock(s.lockPath)
		if err != nil {
			return fmt.Errorf("locking %s: %w", s.identity, err)
		}
		s.unlock = unlock
	}

	if s.exitHook != nil {
		s.exitHook()
	}
	s.exitHook = s.host.OnExit(s.Cleanup)

	if err := s.host.Mkfifo(s.transportPath); err != nil {
		return err
	}

	if s.proc == nil || s.proc.Exited() {
		if s.proc != nil {
			s.logExit(s.proc)
		}
		cmdline := s.mux.SpawnCommand(s.identity, s.transportPath, s.surface.Window())
		proc, err := s.host.Spawn(cmdline)
		telemetry.RecordSessionRestart(context.Background(), s.identity, err)
		if err != nil {
			return fmt.Errorf("spawning %s session: %w", s.mux.Name(), err)
		}
		s.proc = proc
		fields := []zap.Field{zap.String("cmdline", cmdline)}
		if p, ok := proc.(interface{ Pid() int }); ok {
			fields = append(fields, zap.Int("pid", p.Pid()))
		}
		s.log.Info("multiplexer spawned", fields...)
	}

	if s.pipe == nil {
		pipe, err := s.host.OpenNonblock(s.transportPath)
		if err != nil {
			return err
		}
		s.pipe = pipe
	}

	s.state = Active
	s.arm()

	if s.activation != nil {
		s.activation()
		s.activation = nil
	}
	return nil
}

// exitStatus is implemented by processes that keep how they ended.
type exitStatus interface {
	Err() error
	Stderr() string
}

// logExit records why the previous multiplexer client went away. A clean
// exit is normal for clients that only create a detached session.
func (s *Session) logExit(proc Process) {
	st, ok := proc.(exitStatus)
	if !ok {
		return
	}
	if err := st.Err(); err != nil {
		s.log.Warn("multiplexer client failed",
			zap.Error(err),
			zap.String("stderr", strings.TrimSpace(st.Stderr())),
		)
		return
	}
	s.log.Debug("multiplexer client exited")
}

// Cleanup releases everything the session holds: multiplexer sessions with
// its identity, the activation arrangement, the poll, the transport, the
// process, the fifo file, the exit hook and the identity lock. Each step
// only runs if the resource is held, so Cleanup can be called any number
// of times. Unresolved commands stay registered.
func (s *Session) Cleanup() {
	if err := s.mux.Quit(s.identity); err != nil {
		s.log.Debug("quitting multiplexer sessions", zap.Error(err))
	}

	if s.activation != nil {
		s.activation()
		s.activation = nil
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.pipe != nil {
		if err := s.pipe.Close(); err != nil {
			s.log.Debug("closing transport", zap.Error(err))
		}
		s.pipe = nil
	}

	if s.proc != nil {
		if err := s.proc.Terminate(); err != nil {
			s.log.Debug("terminating process", zap.Error(err))
		}
		s.proc = nil
	}

	if err := s.host.Remove(s.transportPath); err != nil {
		s.log.Debug("removing transport", zap.Error(err))
	}

	if s.exitHook != nil {
		s.exitHook()
		s.exitHook = nil
	}

	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}

	s.ready = false
	if s.state != Destroyed {
		s.state = Unstarted
	}
}

// Close cleans up and marks the session destroyed. Afterwards Restart,
// Send and Dispatch do nothing.
func (s *Session) Close() error {
	if s.state == Destroyed {
		return nil
	}
	s.Cleanup()
	s.state = Destroyed
	s.queue = nil
	s.log.Info("session closed for good", zap.Int("unresolved", len(s.registry)))
	return nil
}
