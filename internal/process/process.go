// Package process spawns the program that hosts a session's multiplexer and
// keeps the exit hooks that tear sessions down when muxsh shuts down.
package process

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// Proc is a spawned child running under sh -c in its own process group.
type Proc struct {
	cmd *exec.Cmd

	mu         sync.Mutex
	exited     bool
	err        error
	terminated bool
	done       chan struct{}

	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Spawn starts cmdline through sh -c. Standard output and error are captured
// so the child never writes to the caller's terminal.
func Spawn(cmdline string) (*Proc, error) {
	p := &Proc{done: make(chan struct{})}

	cmd := exec.Command("sh", "-c", cmdline) //nolint:gosec // G204: cmdline is built from validated session names
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %q: %w", cmdline, err)
	}

	go p.reap()
	return p, nil
}

func (p *Proc) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the child's process id, which is also its process group id.
func (p *Proc) Pid() int { return p.cmd.Process.Pid }

// Exited reports whether the child has exited.
func (p *Proc) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Done is closed after the child has been reaped.
func (p *Proc) Done() <-chan struct{} { return p.done }

// Err returns the wait error once the child has exited.
func (p *Proc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stderr returns what the child wrote to standard error. Read it only after
// Done is closed.
func (p *Proc) Stderr() string { return p.stderr.String() }

// Terminate sends SIGTERM to the child's process group. Calling it on an
// exited or already terminated child is a no-op.
func (p *Proc) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited || p.terminated {
		return nil
	}
	p.terminated = true

	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("terminating pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}
