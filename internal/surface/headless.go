// Package surface provides the embedding context a session runs in when
// there is no window system: a single scheduler goroutine, timers that post
// to it, and an event bus for notifications.
package surface

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/eventbus"
	"github.com/steveyegge/muxsh/internal/session"
)

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("surface closed")

// Headless is a session.Surface backed by one goroutine. Every callback it
// schedules runs on that goroutine, one at a time, so a session owned by a
// Headless needs no locking.
type Headless struct {
	id     string
	window string
	log    *zap.Logger
	bus    *eventbus.Bus
	ownBus bool

	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	active  bool
	subs    map[int]*activation
	nextSub int
}

// Option configures a Headless.
type Option func(*Headless)

// WithName sets the surface id. The default is a short random id.
func WithName(name string) Option {
	return func(h *Headless) { h.id = name }
}

// WithWindow sets the native window id an emulator should embed into.
func WithWindow(window string) Option {
	return func(h *Headless) { h.window = window }
}

// WithBus publishes events to bus instead of a private one. Close leaves a
// supplied bus open.
func WithBus(bus *eventbus.Bus) Option {
	return func(h *Headless) { h.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Headless) { h.log = log }
}

// Inactive starts the surface detached. SetActive(true) attaches it.
func Inactive() Option {
	return func(h *Headless) { h.active = false }
}

// New starts a Headless surface. Close stops it.
func New(opts ...Option) *Headless {
	h := &Headless{
		log:    zap.NewNop(),
		active: true,
		tasks:  make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		subs:   make(map[int]*activation),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.id == "" {
		h.id = uuid.NewString()[:8]
	}
	if h.bus == nil {
		h.bus = eventbus.New()
		h.ownBus = true
	}
	h.log = h.log.With(zap.String("surface", h.id))

	go h.loop()
	return h
}

func (h *Headless) loop() {
	defer close(h.done)
	for {
		select {
		case fn := <-h.tasks:
			fn()
		case <-h.quit:
			return
		}
	}
}

// post hands fn to the loop. It reports false once the surface is closed.
// It blocks until the loop takes fn, so it must not be called from the loop.
func (h *Headless) post(fn func()) bool {
	select {
	case h.tasks <- fn:
		return true
	case <-h.quit:
		return false
	}
}

// ID returns the surface id.
func (h *Headless) ID() string { return h.id }

// Window returns the window id, "" when headless.
func (h *Headless) Window() string { return h.window }

// Bus returns the bus events are published to.
func (h *Headless) Bus() *eventbus.Bus { return h.bus }

// Active reports whether the surface is attached.
func (h *Headless) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// activation is one OnActive subscription. claimed is set by whichever of
// cancel and the scheduled run gets there first.
type activation struct {
	fn      func()
	claimed atomic.Bool
}

func (a *activation) run() {
	if a.claimed.CompareAndSwap(false, true) {
		a.fn()
	}
}

// OnActive runs fn on the loop the next time the surface becomes active.
// cancel withdraws fn even after activation has scheduled it, as long as it
// has not started.
func (h *Headless) OnActive(fn func()) (cancel func()) {
	a := &activation{fn: fn}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = a
	return func() {
		a.claimed.Store(true)
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// SetActive attaches or detaches the surface. Attaching schedules every
// pending OnActive callback and drops the subscriptions.
func (h *Headless) SetActive(active bool) {
	h.mu.Lock()
	was := h.active
	h.active = active
	var fire []*activation
	if active && !was {
		for id, a := range h.subs {
			fire = append(fire, a)
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()

	for _, a := range fire {
		h.After(0, a.run)
	}
}

type timer struct {
	t *time.Timer
	// claimed is set by whichever of Stop and the callback gets there first.
	claimed atomic.Bool
}

func (t *timer) Stop() bool {
	t.t.Stop()
	return t.claimed.CompareAndSwap(false, true)
}

// After runs fn on the loop once d has elapsed. Safe to call from any
// goroutine.
func (h *Headless) After(d time.Duration, fn func()) session.Timer {
	t := &timer{}
	t.t = time.AfterFunc(d, func() {
		h.post(func() {
			if t.claimed.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

// Emit publishes event on the bus.
func (h *Headless) Emit(event eventbus.Event) {
	h.log.Debug("event", zap.String("type", string(event.Type)), zap.String("session", event.Session))
	h.bus.Publish(event)
}

// Call runs fn on the loop and waits for it. It must not be called from
// the loop.
func (h *Headless) Call(fn func()) error {
	finished := make(chan struct{})
	if !h.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// Close stops the loop after the running callback returns. Timers that fire
// later are dropped. Idempotent.
func (h *Headless) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
		<-h.done
		if h.ownBus {
			h.bus.Close()
		}
	})
}

var _ session.Surface = (*Headless)(nil)
