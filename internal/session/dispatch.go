package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/command"
	"github.com/steveyegge/muxsh/internal/eventbus"
	"github.com/steveyegge/muxsh/internal/telemetry"
)

// Wrap builds the line submitted for a command: the command in a subshell
// followed by a printf of its sentinel. A background command is wrapped
// once more and detached with &. The shell's own status for "&" only says
// the job started, so the inner printf is what reports the real exit code.
func Wrap(text, literal string, background bool) string {
	line := fmt.Sprintf("(%s); printf \"%s\"", text, literal)
	if background {
		line = fmt.Sprintf("(%s) &", line)
	}
	return line
}

// Dispatch submits text to the shell and returns its command record at
// once. The record resolves when the sentinel shows up in the output; cb,
// if not nil, runs on the scheduler at that moment.
//
// After Close the command gets an id but is never sent or registered, so it
// never resolves.
func (s *Session) Dispatch(text string, background bool, cb command.Callback) *command.Command {
	text = strings.TrimSpace(text)
	id := s.nextID
	s.nextID++

	cmd := command.New(id, text, cb)
	if s.state == Destroyed {
		s.log.Debug("dispatch after close ignored", zap.Uint64("id", id))
		return cmd
	}

	s.Send(Wrap(text, s.codec.Literal(id), background) + "\n")
	s.registry[id] = cmd

	s.log.Debug("command dispatched",
		zap.Uint64("id", id),
		zap.String("command", text),
		zap.Bool("background", background),
	)
	telemetry.RecordDispatch(context.Background(), s.identity, background)
	return cmd
}

// DispatchValue is Dispatch for a value of any type, formatted with fmt.Sprint.
func (s *Session) DispatchValue(v interface{}, background bool, cb command.Callback) *command.Command {
	if text, ok := v.(string); ok {
		return s.Dispatch(text, background, cb)
	}
	return s.Dispatch(fmt.Sprint(v), background, cb)
}

// Send types text into the shell. Before the session is ready the text is
// queued and delivered, in order, on the ready transition. Delivery waits
// for the multiplexer client call, not for the shell to act on the input.
// A failed delivery is logged and counted; the text is not retried.
func (s *Session) Send(text string) {
	if s.state == Destroyed {
		return
	}
	if !s.ready {
		s.queue = append(s.queue, text)
		return
	}

	escaped := s.mux.Escape(text)
	if err := s.mux.Stuff(s.identity, escaped); err != nil {
		s.log.Warn("sending input failed", zap.Error(err), zap.Int("bytes", len(text)))
		telemetry.RecordSendFailure(context.Background(), s.identity, err)
		return
	}

	telemetry.RecordStringSent(context.Background(), s.identity, len(escaped))
	s.emit(eventbus.EventStringSent, escaped)
}

// flushQueue sends every queued string in submission order.
func (s *Session) flushQueue() {
	queued := s.queue
	s.queue = nil
	for _, text := range queued {
		s.Send(text)
	}
}

// Submit dispatches text from any goroutine other than the scheduler's and
// returns the command once it is registered.
func (s *Session) Submit(ctx context.Context, text string, background bool) (*command.Command, error) {
	ch := make(chan *command.Command, 1)
	s.surface.After(0, func() {
		ch <- s.Dispatch(text, background, nil)
	})

	select {
	case cmd := <-ch:
		return cmd, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run is Submit followed by a wait for the command to finish. When ctx ends
// first, Run returns the still-running command with ctx's error; the command
// stays registered and may resolve later.
func (s *Session) Run(ctx context.Context, text string, background bool) (*command.Command, error) {
	cmd, err := s.Submit(ctx, text, background)
	if err != nil {
		return nil, err
	}

	select {
	case <-cmd.Done():
		return cmd, nil
	case <-ctx.Done():
		return cmd, ctx.Err()
	}
}
