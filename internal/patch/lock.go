package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nightlyone/lockfile"
)

// Locker serializes patch operations on one file path.
// The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, path string) (unlock func(), err error)
}

// LockKey is the name a file is locked under: its clean absolute path, so
// every spelling of one file shares a lock.
func LockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// LocalLocks is an in-process lock per file path.
type LocalLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocks creates an empty lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{slots: map[string]chan struct{}{}}
}

// Lock blocks until path is free or ctx is done.
func (l *LocalLocks) Lock(ctx context.Context, path string) (func(), error) {
	path = LockKey(path)
	l.mu.Lock()
	slot, ok := l.slots[path]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[path] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FileLocks is a cross-process lock per file path, backed by pid lockfiles
// in dir. Stale locks left by dead processes are reclaimed. A lockfile held
// by the current pid is re-entrant, so in-process callers chain it behind
// LocalLocks.
type FileLocks struct {
	dir     string
	maxWait time.Duration
}

// NewFileLocks creates lockfile-based locks under dir. Acquisition gives up
// after maxWait.
func NewFileLocks(dir string, maxWait time.Duration) *FileLocks {
	return &FileLocks{dir: dir, maxWait: maxWait}
}

// Lock acquires the lockfile for path, retrying with backoff while it is busy.
func (l *FileLocks) Lock(ctx context.Context, path string) (func(), error) {
	dir, err := filepath.Abs(l.dir)
	if err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock, err := lockfile.New(filepath.Join(dir, storageName(path)+".lock"))
	if err != nil {
		return nil, fmt.Errorf("lockfile: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = l.maxWait

	err = backoff.Retry(func() error {
		err := lock.TryLock()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, lockfile.ErrBusy),
			errors.Is(err, lockfile.ErrDeadOwner),
			errors.Is(err, lockfile.ErrInvalidPid):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() { _ = lock.Unlock() }, nil
}

// Chain acquires every locker in order and releases them in reverse.
type Chain []Locker

// Lock implements Locker.
func (c Chain) Lock(ctx context.Context, path string) (func(), error) {
	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx, path)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return release, nil
}
