package session

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/eventbus"
	"github.com/steveyegge/muxsh/internal/telemetry"
	"github.com/steveyegge/muxsh/internal/transport"
)

// arm schedules the next poll unless one is already scheduled.
func (s *Session) arm() {
	if s.timer != nil {
		return
	}
	var t Timer
	t = s.surface.After(s.readInterval, func() { s.poll(t) })
	s.timer = t
}

// read performs one non-blocking read. It returns the bytes read and
// whether the writer has gone away.
func (s *Session) read() ([]byte, bool) {
	buf := make([]byte, s.readLength)
	n, err := s.pipe.Read(buf)
	switch {
	case n > 0:
		return buf[:n], false
	case err == nil, errors.Is(err, io.EOF):
		return nil, true
	case errors.Is(err, transport.ErrWouldBlock):
		return nil, false
	default:
		s.log.Warn("reading transport failed", zap.Error(err))
		return nil, false
	}
}

// poll is one cycle of the stream reader. self is the timer that fired it.
func (s *Session) poll(self Timer) {
	if s.timer != self || s.pipe == nil {
		return
	}

	data, disconnected := s.read()

	switch {
	case !s.ready && len(data) > 0:
		if err := s.mux.Ready(s.identity); err != nil {
			s.log.Warn("ready hook failed", zap.Error(err))
		}
		s.ready = true
		s.log.Info("session ready")
		s.emit(eventbus.EventReady, nil)
		s.flushQueue()

	case s.ready && disconnected:
		s.ready = false
		s.log.Info("session closed", zap.Int("unresolved", len(s.registry)))
		telemetry.RecordSessionClosed(context.Background(), s.identity, len(s.registry))
		s.emit(eventbus.EventClosed, nil)
		if s.restoreOnClose {
			if err := s.Restart(); err != nil {
				s.log.Error("restoring session failed", zap.Error(err))
			}
		}
	}

	if len(data) > 0 {
		s.log.Debug("transport read", zap.Int("bytes", len(data)))
		s.scan(data)
	}

	// Callbacks and notifications above may have closed or restarted the
	// session; only the timer that is still current re-arms.
	if s.timer == self {
		s.timer = nil
		if s.state == Active && s.pipe != nil {
			s.arm()
		}
	}
}

// scan appends data to the carried-over buffer and resolves every sentinel
// in it. Whatever follows the last complete sentinel is kept for the next
// cycle, so a marker split across reads is completed by the later one.
func (s *Session) scan(data []byte) {
	buf := make([]byte, 0, len(s.readBuf)+len(data))
	buf = append(buf, s.readBuf...)
	buf = append(buf, data...)

	cursor := 0
	for _, m := range s.codec.Match(buf) {
		// A complete marker is consumed even when nothing waits for it, so
		// output from an earlier shell cannot resolve a later command.
		cursor = m.End
		cmd, ok := s.registry[m.ID]
		if !ok {
			s.log.Debug("sentinel for unknown command", zap.Uint64("id", m.ID))
			continue
		}
		delete(s.registry, m.ID)

		cmd.SetExitCode(m.ExitCode)
		s.log.Debug("command ended",
			zap.Uint64("id", m.ID),
			zap.Int("exit_code", m.ExitCode),
		)
		telemetry.RecordCommandEnded(context.Background(), s.identity, m.ExitCode)
		s.emit(eventbus.EventCommandEnded, cmd)
	}

	s.readBuf = s.trim(buf[cursor:])
}

// trim bounds the carried-over buffer when max_buffer_bytes is set. The
// kept tail is never shorter than one sentinel, so a partial marker is
// never cut.
func (s *Session) trim(rest []byte) []byte {
	if s.maxBuffer > 0 {
		limit := s.maxBuffer
		if floor := s.codec.MaxLen(); limit < floor {
			limit = floor
		}
		if len(rest) > limit {
			rest = rest[len(rest)-limit:]
		}
	}
	out := make([]byte, len(rest))
	copy(out, rest)
	return out
}
