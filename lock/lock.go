// Package lock implements the two cooperating locks that guard concurrent
// writers: the store lock covers changelog/manifest/filelog writes,
// the working-copy lock covers dirstate writes. Both are backed by
// gofrs/flock advisory file locks, with a bounded exponential backoff
// before giving up.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/rcowham/gorevlog/errs"
)

// DefaultTimeout is the default time a caller waits for a contended lock
// before giving up.
const DefaultTimeout = 10 * time.Minute

// Lock guards a single named resource (the store or the working copy)
// with an advisory file lock plus an owner-identity file recording which
// process last held it, for stale-lock diagnostics.
type Lock struct {
	path string
	fl *flock.Flock
	owner string
}

// New returns a Lock bound to path (typically "store/lock" or "wlock"
// under the repository directory); the file is created on first Acquire.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Acquire blocks until the lock is obtained, ctx is done, or timeout
// elapses, using exponential backoff between attempts. On success
// the lock file's contents record this process's identity so a later
// caller can tell who is holding (or held) it.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := 10 * time.Millisecond
	const maxDelay = 2 * time.Second
	for {
		ok, err := l.fl.TryLock()
		if err != nil {
			return errs.Wrap(errs.Lock, "lock.Acquire", "try-lock "+l.path, err)
		}
		if ok {
			l.owner = identity()
			_ = os.WriteFile(l.path, []byte(l.owner), 0644)
			return nil
		}
		select {
		case <-ctx.Done():
			holder, _ := os.ReadFile(l.path)
			return errs.New(errs.Lock, "lock.Acquire", fmt.Sprintf("timed out waiting for %s (held by %q)", l.path, string(holder)))
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Release unlocks and clears the owner-identity marker.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return errs.Wrap(errs.Lock, "lock.Release", l.path, err)
	}
	_ = os.Remove(l.path)
	return nil
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool {
	return l.fl.Locked()
}

func identity() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%d@%s", os.Getpid(), host)
}
