//go:build !windows

// Package transport owns the named pipe a multiplexer logs session output to.
//
// The pipe is opened read-only with O_NONBLOCK and read through the raw file
// descriptor. Going around os.File keeps reads off the runtime poller, so a
// read with nothing buffered returns immediately instead of parking the
// goroutine that runs the session scheduler.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock reports that a writer is connected but has nothing buffered.
var ErrWouldBlock = errors.New("transport: read would block")

// ErrClosed is returned by reads on a closed pipe.
var ErrClosed = errors.New("transport: pipe closed")

// Mkfifo creates a named pipe at path readable only by the owner.
// An existing file at path is left alone.
func Mkfifo(path string) error {
	if err := unix.Mkfifo(path, 0600); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("creating fifo %s: %w", path, err)
	}
	return nil
}

// Remove deletes the pipe file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing fifo %s: %w", path, err)
	}
	return nil
}

// Pipe is the read end of a named pipe.
type Pipe struct {
	path string
	fd   int
}

// OpenNonblock opens the read end of the pipe at path. Opening never waits
// for a writer.
func OpenNonblock(path string) (*Pipe, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return &Pipe{path: path, fd: fd}, nil
}

// Path returns the pipe's file name.
func (p *Pipe) Path() string { return p.path }

// Read reads up to len(b) bytes. It returns ErrWouldBlock when a writer
// holds the pipe open without data pending, and (0, io.EOF) when no writer
// is connected.
func (p *Pipe) Read(b []byte) (int, error) {
	if p.fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(p.fd, b)
		switch {
		case err == nil && n == 0 && len(b) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("reading fifo %s: %w", p.path, err)
		}
	}
}

// Close releases the descriptor. Closing twice is a no-op.
func (p *Pipe) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	if err != nil {
		return fmt.Errorf("closing fifo %s: %w", p.path, err)
	}
	return nil
}
