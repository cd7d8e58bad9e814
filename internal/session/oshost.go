package session

import (
	"github.com/steveyegge/muxsh/internal/lock"
	"github.com/steveyegge/muxsh/internal/process"
	"github.com/steveyegge/muxsh/internal/transport"
)

// OSHost is the Host backed by real fifos, child processes and file locks.
type OSHost struct {
	// Hooks receives exit hooks. Nil means process.DefaultHooks.
	Hooks *process.Hooks
}

var _ Host = (*OSHost)(nil)

// NewOSHost returns a host registering exit hooks on process.DefaultHooks.
func NewOSHost() *OSHost {
	return &OSHost{}
}

// Mkfifo creates the transport fifo.
func (h *OSHost) Mkfifo(path string) error { return transport.Mkfifo(path) }

// OpenNonblock opens the fifo's read end.
func (h *OSHost) OpenNonblock(path string) (Pipe, error) {
	p, err := transport.OpenNonblock(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Spawn starts cmdline under sh -c.
func (h *OSHost) Spawn(cmdline string) (Process, error) {
	p, err := process.Spawn(cmdline)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Remove deletes the fifo.
func (h *OSHost) Remove(path string) error { return transport.Remove(path) }

// OnExit registers fn with the host's hook set.
func (h *OSHost) OnExit(fn func()) func() {
	hooks := h.Hooks
	if hooks == nil {
		hooks = process.DefaultHooks
	}
	return hooks.Register(fn)
}

// Lock takes the identity lock.
func (h *OSHost) Lock(path string) (func(), error) { return lock.TryIdentity(path) }
