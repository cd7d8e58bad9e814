package session

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/steveyegge/muxsh/internal/escape"
	"github.com/steveyegge/muxsh/internal/eventbus"
	"github.com/steveyegge/muxsh/internal/sentinel"
	"github.com/steveyegge/muxsh/internal/transport"
)

// Double is a FAKE with SPY capabilities for Surface, Host and Multiplexer.
//
// Test Double Taxonomy (Meszaros/Fowler):
//   - FAKE: in-memory scheduler, fifo and multiplexer (no screen, no tmux)
//   - SPY: records spawns, stuffed input, ready hooks, quits and events
//
// Time does not pass on its own: Tick runs the callbacks scheduled so far.
// Output reaches the session one Feed chunk per read, which gives tests
// exact control over how the stream is fragmented.
type Double struct {
	mu sync.Mutex

	// Surface
	id          string
	window      string
	active      bool
	activations map[int]func()
	nextSub     int
	timers      []*doubleTimer
	events      []eventbus.Event

	// Host
	fifos     map[string]bool
	pipes     []*doublePipe
	writer    bool
	chunks    [][]byte
	procs     []*doubleProc
	cmdlines  []string
	exitHooks map[int]func()
	nextHook  int
	locks     map[string]bool

	// Multiplexer
	stuffed    []string
	readyCalls int
	quits      int

	// Error injection
	SpawnErr error
	StuffErr error
	LockErr  error
}

// NewDouble creates a double whose surface id is id. The surface starts
// inactive.
func NewDouble(id string) *Double {
	return &Double{
		id:          id,
		activations: make(map[int]func()),
		fifos:       make(map[string]bool),
		exitHooks:   make(map[int]func()),
		locks:       make(map[string]bool),
	}
}

var (
	_ Surface     = (*Double)(nil)
	_ Host        = (*Double)(nil)
	_ Multiplexer = (*Double)(nil)
)

// --- Surface ---

type doubleTimer struct {
	fn      func()
	stopped bool
}

func (t *doubleTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// ID returns the surface id.
func (d *Double) ID() string { return d.id }

// Window returns the window id set with SetWindow.
func (d *Double) Window() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// SetWindow sets the window id reported to the session.
func (d *Double) SetWindow(w string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = w
}

// Active reports the visibility flag.
func (d *Double) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// OnActive records a one-shot activation subscription.
func (d *Double) OnActive(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.activations[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.activations, id)
	}
}

// Activations returns the number of pending activation subscriptions.
func (d *Double) Activations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.activations)
}

// SetActive changes visibility. Becoming active fires and drops every
// pending subscription, synchronously.
func (d *Double) SetActive(active bool) {
	d.mu.Lock()
	d.active = active
	var fire []func()
	if active {
		for id, fn := range d.activations {
			fire = append(fire, fn)
			delete(d.activations, id)
		}
	}
	d.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// After records fn. The delay is ignored; Tick decides when it runs.
func (d *Double) After(_ time.Duration, fn func()) Timer {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &doubleTimer{fn: fn}
	d.timers = append(d.timers, t)
	return t
}

// Scheduled returns the number of callbacks waiting to run.
func (d *Double) Scheduled() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Tick runs every callback scheduled before the call and returns how many
// ran. Callbacks they schedule wait for the next Tick.
func (d *Double) Tick() int {
	d.mu.Lock()
	due := d.timers
	d.timers = nil
	d.mu.Unlock()

	ran := 0
	for _, t := range due {
		if t.stopped {
			continue
		}
		t.stopped = true
		t.fn()
		ran++
	}
	return ran
}

// Emit records the event.
func (d *Double) Emit(event eventbus.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

// Events returns the recorded events, optionally filtered by type.
func (d *Double) Events(types ...eventbus.EventType) []eventbus.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(types) == 0 {
		return append([]eventbus.Event(nil), d.events...)
	}
	var out []eventbus.Event
	for _, e := range d.events {
		for _, typ := range types {
			if e.Type == typ {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// --- Host ---

type doublePipe struct {
	d      *Double
	closed bool
}

func (p *doublePipe) Read(b []byte) (int, error) {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()

	if p.closed {
		return 0, transport.ErrClosed
	}
	if len(p.d.chunks) > 0 {
		chunk := p.d.chunks[0]
		n := copy(b, chunk)
		if n < len(chunk) {
			p.d.chunks[0] = chunk[n:]
		} else {
			p.d.chunks = p.d.chunks[1:]
		}
		return n, nil
	}
	if p.d.writer {
		return 0, transport.ErrWouldBlock
	}
	return 0, io.EOF
}

func (p *doublePipe) Close() error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.closed = true
	return nil
}

type doubleProc struct {
	d          *Double
	exited     bool
	terminated bool
	err        error
	stderr     string
}

func (p *doubleProc) Exited() bool {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.exited
}

func (p *doubleProc) Err() error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.err
}

func (p *doubleProc) Stderr() string {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.stderr
}

func (p *doubleProc) Terminate() error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.terminated = true
	p.exited = true
	p.d.writer = false
	return nil
}

// Mkfifo records the fifo.
func (d *Double) Mkfifo(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fifos[path] = true
	return nil
}

// HasFifo reports whether the fifo exists.
func (d *Double) HasFifo(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fifos[path]
}

// OpenNonblock opens a reader over the fed chunks.
func (d *Double) OpenNonblock(path string) (Pipe, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.fifos[path] {
		return nil, fmt.Errorf("opening fifo %s: no such file", path)
	}
	p := &doublePipe{d: d}
	d.pipes = append(d.pipes, p)
	return p, nil
}

// OpenPipes returns the number of readers not yet closed.
func (d *Double) OpenPipes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.pipes {
		if !p.closed {
			n++
		}
	}
	return n
}

// Spawn records cmdline and connects a writer, as a multiplexer opening its
// log would.
func (d *Double) Spawn(cmdline string) (Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SpawnErr != nil {
		return nil, d.SpawnErr
	}
	d.cmdlines = append(d.cmdlines, cmdline)
	d.writer = true
	p := &doubleProc{d: d}
	d.procs = append(d.procs, p)
	return p, nil
}

// Spawned returns every command line passed to Spawn.
func (d *Double) Spawned() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.cmdlines...)
}

// Running returns the number of spawned processes still alive.
func (d *Double) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.procs {
		if !p.exited {
			n++
		}
	}
	return n
}

// Remove deletes the fifo record.
func (d *Double) Remove(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fifos, path)
	return nil
}

// OnExit records an exit hook.
func (d *Double) OnExit(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextHook
	d.nextHook++
	d.exitHooks[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.exitHooks, id)
	}
}

// ExitHooks returns the number of registered exit hooks.
func (d *Double) ExitHooks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.exitHooks)
}

// ErrLocked is returned by Double.Lock when the path is already held.
var ErrLocked = errors.New("double: identity locked")

// Lock takes an in-memory lock on path.
func (d *Double) Lock(path string) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LockErr != nil {
		return nil, d.LockErr
	}
	if d.locks[path] {
		return nil, ErrLocked
	}
	d.locks[path] = true
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.locks, path)
	}, nil
}

// Locked reports whether path is held.
func (d *Double) Locked(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locks[path]
}

// Feed queues output from the shell. Each call is returned by its own read.
func (d *Double) Feed(chunks ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range chunks {
		d.chunks = append(d.chunks, []byte(c))
	}
}

// Complete feeds the sentinel the shell prints when command id exits.
func (d *Double) Complete(id uint64, code int) {
	d.Feed(SentinelOutput(id, code))
}

// ExitShell simulates the shell exiting: the log writer goes away and the
// spawned processes exit.
func (d *Double) ExitShell() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writer = false
	for _, p := range d.procs {
		p.exited = true
	}
}

// CrashShell is ExitShell with the multiplexer clients failing with err
// and writing stderr.
func (d *Double) CrashShell(err error, stderr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writer = false
	for _, p := range d.procs {
		p.exited = true
		p.err = err
		p.stderr = stderr
	}
}

// SentinelOutput is the text a shell writes to a tty for command id
// exiting with code.
func SentinelOutput(id uint64, code int) string {
	return escape.Normalize(fmt.Sprintf("\nID:%s;ExitCode:%d\n", sentinel.EncodeID(id), code))
}

// --- Multiplexer ---

// Name returns "double".
func (d *Double) Name() string { return "double" }

// SpawnCommand describes its arguments.
func (d *Double) SpawnCommand(identity, transport, window string) string {
	return fmt.Sprintf("spawn %s log=%s window=%s", identity, transport, window)
}

// Escape applies screen escaping.
func (d *Double) Escape(text string) string { return escape.Send(text) }

// Stuff records escaped input.
func (d *Double) Stuff(_ string, escaped string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StuffErr != nil {
		return d.StuffErr
	}
	d.stuffed = append(d.stuffed, escaped)
	return nil
}

// Stuffed returns every string passed to Stuff.
func (d *Double) Stuffed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stuffed...)
}

// Ready counts ready hooks.
func (d *Double) Ready(string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyCalls++
	return nil
}

// ReadyCalls returns how often Ready ran.
func (d *Double) ReadyCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyCalls
}

// Quit counts quits.
func (d *Double) Quit(string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quits++
	return nil
}

// Quits returns how often Quit ran.
func (d *Double) Quits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quits
}

// AttachHint returns a placeholder.
func (d *Double) AttachHint(identity string) string { return "attach " + identity }
