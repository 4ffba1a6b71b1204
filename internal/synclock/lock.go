// Package synclock provides the named, reentrant lock that serializes sync
// passes within the process.
package synclock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultRetryAfter = 30 * time.Second

// ErrMissingHolder is returned when Acquire is called without a holder identity.
var ErrMissingHolder = errors.New("synclock: holder identity is required")

// BusyError reports a failed acquisition because another holder owns the lock.
// RetryAfter is a hint for callers that surface the rejection to clients.
type BusyError struct {
	Name       string
	Holder     string
	HeldFor    time.Duration
	RetryAfter time.Duration
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("sync lock %q held by %q for %s", e.Name, e.Holder, e.HeldFor.Round(time.Millisecond))
}

// Config configures a Lock.
type Config struct {
	Name       string
	RetryAfter time.Duration
	Clock      func() time.Time
}

// Lock is an in-process mutual exclusion primitive keyed by holder identity.
// The same holder may re-enter while it owns the lock; release decrements the
// entry depth and clears the holder only when the outermost scope releases.
type Lock struct {
	name       string
	retryAfter time.Duration
	clock      func() time.Time

	mu       sync.Mutex
	holder   string
	depth    int
	since    time.Time
	released chan struct{}
}

// New constructs a Lock.
func New(cfg Config) *Lock {
	name := cfg.Name
	if name == "" {
		name = "sync"
	}
	retryAfter := cfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Lock{
		name:       name,
		retryAfter: retryAfter,
		clock:      clock,
		released:   make(chan struct{}),
	}
}

// Scope represents one successful acquisition. Release must be called once per
// scope; further calls are no-ops.
type Scope struct {
	lock     *Lock
	holder   string
	released bool
}

// Acquire attempts to take the lock for the named holder. A zero timeout makes
// the call fail fast with a BusyError when the lock is held by someone else; a
// positive timeout waits up to that long for the current holder to release.
func (l *Lock) Acquire(ctx context.Context, holder string, timeout time.Duration) (*Scope, error) {
	if holder == "" {
		return nil, ErrMissingHolder
	}

	deadline := time.Now().Add(timeout)
	for {
		l.mu.Lock()
		switch {
		case l.holder == "":
			l.holder = holder
			l.depth = 1
			l.since = l.clock()
			l.mu.Unlock()
			return &Scope{lock: l, holder: holder}, nil
		case l.holder == holder:
			l.depth++
			l.mu.Unlock()
			return &Scope{lock: l, holder: holder}, nil
		}

		currentHolder := l.holder
		heldFor := l.clock().Sub(l.since)
		waitCh := l.released
		l.mu.Unlock()

		remaining := time.Until(deadline)
		if timeout <= 0 || remaining <= 0 {
			return nil, &BusyError{
				Name:       l.name,
				Holder:     currentHolder,
				HeldFor:    heldFor,
				RetryAfter: l.retryAfter,
			}
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Release returns the lock. Releasing the outermost scope clears the holder
// identity and wakes any waiters.
func (s *Scope) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.lock.release(s.holder)
}

func (l *Lock) release(holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder != holder {
		return
	}
	l.depth--
	if l.depth > 0 {
		return
	}
	l.holder = ""
	l.depth = 0
	l.since = time.Time{}
	close(l.released)
	l.released = make(chan struct{})
}

// Name returns the lock's configured name.
func (l *Lock) Name() string {
	return l.name
}

// IsHeld reports whether any holder currently owns the lock.
func (l *Lock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder != ""
}

// Holder returns the current holder identity, or "" when the lock is free.
func (l *Lock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// HeldFor returns how long the current holder has owned the lock, or zero when
// the lock is free.
func (l *Lock) HeldFor() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == "" {
		return 0
	}
	return l.clock().Sub(l.since)
}

// Busy builds the BusyError the lock would return right now, for callers that
// pre-check availability before queueing work.
func (l *Lock) Busy() *BusyError {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == "" {
		return nil
	}
	return &BusyError{
		Name:       l.name,
		Holder:     l.holder,
		HeldFor:    l.clock().Sub(l.since),
		RetryAfter: l.retryAfter,
	}
}
