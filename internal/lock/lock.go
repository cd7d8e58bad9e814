// Package lock guards a session identity with an advisory file lock, so two
// sessions never share one fifo and one multiplexer session.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrIdentityInUse is returned when another session holds the identity lock.
var ErrIdentityInUse = errors.New("session identity in use")

// TryIdentity takes the lock at path without waiting. The returned function
// releases it and leaves the lock file in place.
func TryIdentity(path string) (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrIdentityInUse, path)
	}

	return func() { _ = fl.Unlock() }, nil
}

// WaitIdentity retries the lock at path every retryDelay until it is taken
// or ctx ends. A lock still held when ctx ends reports ErrIdentityInUse.
func WaitIdentity(ctx context.Context, path string, retryDelay time.Duration) (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if !locked {
		if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s", ErrIdentityInUse, path)
		}
		return nil, fmt.Errorf("acquiring %s: %w", path, err)
	}

	return func() { _ = fl.Unlock() }, nil
}
