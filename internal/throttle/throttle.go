// Package throttle rejects repeated failed login attempts per client key in a
// bounded time window. Counters track failures only; a single success clears
// the key.
package throttle

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLocked signals that the key has exhausted its failure budget for
	// the current window.
	ErrLocked = errors.New("throttle: locked out")
	// ErrUnavailable signals a backing store failure. Callers choose whether
	// to fail open or closed.
	ErrUnavailable = errors.New("throttle: store unavailable")
)

// Status is the current window state for a key.
type Status struct {
	Failures   int
	RetryAfter time.Duration
}

// Store holds per-key failure counters with atomic updates. Implementations
// must not lose increments under concurrent failures for the same key.
type Store interface {
	// Fail records one failed attempt, starting a new window if the previous
	// one expired, and returns the resulting count.
	Fail(ctx context.Context, key string) (int, error)
	// Status reports the live failure count and how long until the window
	// expires. An absent or expired key reports zero failures.
	Status(ctx context.Context, key string) (Status, error)
	// Clear removes the key entirely.
	Clear(ctx context.Context, key string) error
}

// Throttle gates the login path with a failure budget per client key.
type Throttle struct {
	store Store
	limit int
}

// New constructs a Throttle that locks a key once it accrues limit failures.
func New(store Store, limit int) *Throttle {
	if limit <= 0 {
		limit = 5
	}
	return &Throttle{store: store, limit: limit}
}

// Key derives the throttle key for a client IP. Scoped to the login path.
func Key(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return "login:" + ip
}

// Allow reports whether an attempt may proceed. On lockout it returns
// ErrLocked plus the remaining lockout duration. The check runs before any
// credential work so a locked-out client costs no hashing.
func (t *Throttle) Allow(ctx context.Context, key string) (time.Duration, error) {
	st, err := t.store.Status(ctx, key)
	if err != nil {
		return 0, err
	}
	if st.Failures >= t.limit {
		return st.RetryAfter, ErrLocked
	}
	return 0, nil
}

// RecordFailure counts one failed attempt against the key.
func (t *Throttle) RecordFailure(ctx context.Context, key string) error {
	_, err := t.store.Fail(ctx, key)
	return err
}

// RecordSuccess clears the key after a successful attempt.
func (t *Throttle) RecordSuccess(ctx context.Context, key string) error {
	return t.store.Clear(ctx, key)
}
