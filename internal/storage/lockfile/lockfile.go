// Package lockfile wraps an OS file lock held on a sibling "<path>.lock" file.
package lockfile

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const retryDelay = 50 * time.Millisecond

type Lock struct {
	lock    *flock.Flock
	timeout time.Duration
}

// New returns a lock on path+".lock". A positive timeout bounds every Lock call.
func New(path string, timeout time.Duration) *Lock {
	return &Lock{
		lock:    flock.New(path + ".lock"),
		timeout: timeout,
	}
}

func (l *Lock) Path() string {
	return l.lock.Path()
}

// Lock blocks until the lock is held, ctx is done or the timeout expires.
func (l *Lock) Lock(ctx context.Context) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	ok, err := l.lock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", l.lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to lock %s: held by another process", l.lock.Path())
	}
	return func() { _ = l.lock.Unlock() }, nil
}

func (l *Lock) Close() error {
	return l.lock.Close()
}
