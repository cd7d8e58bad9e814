package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Hooks is a set of cleanup functions run once when the process shuts down.
type Hooks struct {
	mu    sync.Mutex
	next  int
	order []int
	hooks map[int]func()
	ran   bool
}

// NewHooks returns an empty hook set.
func NewHooks() *Hooks {
	return &Hooks{hooks: make(map[int]func())}
}

// DefaultHooks is the process-wide hook set used by OS-backed sessions.
var DefaultHooks = NewHooks()

// Register adds fn and returns a function that removes it again.
// Hooks registered after Run has been called never run.
func (h *Hooks) Register(fn func()) (unregister func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	h.hooks[id] = fn
	h.order = append(h.order, id)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.hooks, id)
	}
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks)
}

// Run calls every registered hook, most recent first. Only the first call
// does anything.
func (h *Hooks) Run() {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return
	}
	h.ran = true

	var fns []func()
	for i := len(h.order) - 1; i >= 0; i-- {
		if fn, ok := h.hooks[h.order[i]]; ok {
			fns = append(fns, fn)
		}
	}
	h.hooks = make(map[int]func())
	h.order = nil
	h.mu.Unlock()

	// Hooks may unregister themselves, so call them without the lock.
	for _, fn := range fns {
		fn()
	}
}

// HandleSignals returns a context cancelled on SIGINT, SIGTERM or SIGHUP.
// Callers shut their sessions down when it is done and then call
// DefaultHooks.Run, so hooks never race a running scheduler.
func HandleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
}
