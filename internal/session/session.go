// Package session drives an interactive shell living inside a terminal
// multiplexer. Commands are tagged with a sentinel that prints their exit
// status; a poll loop reads the multiplexer's log through a named pipe and
// resolves each sentinel back to the command that emitted it.
//
// A Session is not safe for concurrent use. Every method except Submit and
// Run must be called on the goroutine that runs the Surface's scheduled
// callbacks, which is also where the poll loop runs. This single-owner rule
// is what lets the registry, read buffer and pending queue go unlocked.
package session

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/command"
	"github.com/steveyegge/muxsh/internal/config"
	"github.com/steveyegge/muxsh/internal/eventbus"
	"github.com/steveyegge/muxsh/internal/sentinel"
)

// Surface is the embedding context a session lives in. It supplies the
// session's identity, tells it when it may start, schedules its callbacks
// and delivers its notifications.
type Surface interface {
	// ID is stable for the surface's lifetime.
	ID() string

	// Window is the native window id to embed an emulator into, or "" when
	// the session runs headless.
	Window() string

	// Active reports whether the surface is attached and visible.
	Active() bool

	// OnActive arranges for fn to run on the scheduler the next time the
	// surface becomes active. cancel withdraws the arrangement.
	OnActive(fn func()) (cancel func())

	// After runs fn on the scheduler once d has elapsed.
	After(d time.Duration, fn func()) Timer

	// Emit delivers a notification.
	Emit(event eventbus.Event)
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running if it has not started yet.
	Stop() bool
}

// Pipe is the non-blocking read end of the transport.
//
// Read returns transport.ErrWouldBlock when a writer is connected with
// nothing pending, and (0, io.EOF) or (0, nil) once no writer is connected.
type Pipe interface {
	io.Reader
	io.Closer
}

// Process is the program hosting the multiplexer client.
type Process interface {
	Exited() bool
	Terminate() error
}

// Host is the operating-system layer a session acquires resources from.
type Host interface {
	// Mkfifo creates the named transport. An existing file is not an error.
	Mkfifo(path string) error

	// OpenNonblock opens the transport for non-blocking reads.
	OpenNonblock(path string) (Pipe, error)

	// Spawn runs cmdline with its standard streams captured.
	Spawn(cmdline string) (Process, error)

	// Remove deletes the transport file. A missing file is not an error.
	Remove(path string) error

	// OnExit registers fn to run when the process shuts down.
	OnExit(fn func()) (unregister func())

	// Lock takes the identity lock at path without waiting.
	Lock(path string) (unlock func(), err error)
}

// Multiplexer hosts the interactive shell and stuffs input into it.
type Multiplexer interface {
	// Name identifies the multiplexer in logs ("screen", "tmux").
	Name() string

	// SpawnCommand returns the shell command line that attaches to the
	// session named identity if it exists and otherwise creates it with its
	// output logged to transport. A non-empty window embeds an emulator.
	SpawnCommand(identity, transport, window string) string

	// Escape converts text for Stuff.
	Escape(text string) string

	// Stuff delivers escaped text as typed input and waits for the client
	// call to finish.
	Stuff(identity, escaped string) error

	// Ready runs once the session has produced its first output.
	Ready(identity string) error

	// Quit ends every multiplexer session named identity.
	Quit(identity string) error

	// AttachHint tells a human how to join the session.
	AttachHint(identity string) string
}

// State is the lifecycle state of a session.
type State int

const (
	// Unstarted sessions hold no resources.
	Unstarted State = iota
	// Starting sessions wait for the surface to become active.
	Starting
	// Active sessions own a transport, a process and an armed poll.
	Active
	// Destroyed is terminal.
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one managed shell with its transport, process and registry.
type Session struct {
	surface Surface
	host    Host
	mux     Multiplexer
	codec   *sentinel.Codec
	log     *zap.Logger

	identity      string
	transportDir  string
	transportPath string
	lockPath      string

	restoreOnClose bool
	readInterval   time.Duration
	readLength     int
	maxBuffer      int

	state    State
	ready    bool
	queue    []string
	readBuf  []byte
	nextID   uint64
	registry map[uint64]*command.Command

	// Held resources; nil when released.
	activation func()
	exitHook   func()
	unlock     func()
	proc       Process
	pipe       Pipe
	timer      Timer
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithConfig applies restore_on_close, read_interval_ms, read_length,
// max_buffer_bytes and transport_dir.
func WithConfig(cfg *config.Config) Option {
	return func(s *Session) {
		s.restoreOnClose = cfg.RestoreOnClose
		s.readInterval = cfg.ReadInterval()
		s.readLength = cfg.ReadLength
		s.maxBuffer = cfg.MaxBufferBytes
		if cfg.TransportDir != "" {
			s.transportDir = cfg.TransportDir
		}
	}
}

// WithTransportDir sets the directory holding the fifo and lock file.
func WithTransportDir(dir string) Option {
	return func(s *Session) { s.transportDir = dir }
}

// New creates an unstarted session for surface. Call Restart to start it.
func New(surface Surface, host Host, mux Multiplexer, opts ...Option) (*Session, error) {
	s := &Session{
		surface:        surface,
		host:           host,
		mux:            mux,
		codec:          sentinel.New(),
		log:            zap.NewNop(),
		transportDir:   config.DefaultTransportDir,
		restoreOnClose: true,
		readInterval:   config.DefaultReadInterval,
		readLength:     config.DefaultReadLength,
		registry:       make(map[uint64]*command.Command),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := config.ValidateReadLength(s.readLength); err != nil {
		return nil, err
	}
	if err := config.ValidateReadInterval(s.readInterval); err != nil {
		return nil, err
	}
	if s.maxBuffer < 0 {
		return nil, config.ErrNegativeBufferCap
	}

	s.identity = Identity(surface.ID())
	s.transportPath = TransportPath(s.transportDir, s.identity)
	s.lockPath = LockPath(s.transportDir, s.identity)
	s.log = s.log.With(zap.String("identity", s.identity), zap.String("multiplexer", mux.Name()))
	return s, nil
}

// Identity returns the name shared by the multiplexer session, the fifo and
// the lock file.
func (s *Session) Identity() string { return s.identity }

// TransportPath returns the fifo path.
func (s *Session) TransportPath() string { return s.transportPath }

// AttachHint tells a human how to join the shell.
func (s *Session) AttachHint() string { return s.mux.AttachHint(s.identity) }

// Ready reports whether the shell has produced output since it last started.
func (s *Session) Ready() bool { return s.ready }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Pending returns the number of dispatched commands not yet resolved.
func (s *Session) Pending() int { return len(s.registry) }

// Queued returns the number of strings waiting for the session to be ready.
func (s *Session) Queued() int { return len(s.queue) }

// RestoreOnClose reports whether the session restarts after the shell exits.
func (s *Session) RestoreOnClose() bool { return s.restoreOnClose }

// SetRestoreOnClose sets whether the session restarts after the shell exits.
func (s *Session) SetRestoreOnClose(v bool) { s.restoreOnClose = v }

// ReadLength returns the maximum number of bytes read per poll.
func (s *Session) ReadLength() int { return s.readLength }

// SetReadLength changes the per-poll read size. Values below
// config.MinReadLength are rejected and leave the setting unchanged.
func (s *Session) SetReadLength(n int) error {
	if err := config.ValidateReadLength(n); err != nil {
		return err
	}
	s.readLength = n
	return nil
}

// ReadInterval returns the poll period.
func (s *Session) ReadInterval() time.Duration { return s.readInterval }

// SetReadInterval changes the poll period from the next poll on.
// Non-positive values are rejected and leave the setting unchanged.
func (s *Session) SetReadInterval(d time.Duration) error {
	if err := config.ValidateReadInterval(d); err != nil {
		return err
	}
	s.readInterval = d
	return nil
}

func (s *Session) emit(typ eventbus.EventType, data interface{}) {
	s.surface.Emit(eventbus.Event{Type: typ, Session: s.identity, Data: data})
}
