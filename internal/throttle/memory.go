package throttle

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// MemoryStore is an in-process sharded Store. Each shard guards its map with
// its own mutex, so increments are atomic and unrelated keys do not contend.
// Stale entries are purged opportunistically during writes.
type MemoryStore struct {
	window time.Duration
	now    func() time.Time
	shards [shardCount]shard
}

type shard struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lastPurge time.Time
}

type entry struct {
	failures    int
	windowStart time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewMemoryStore constructs a store with the given failure window.
func NewMemoryStore(window time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		window: window,
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Fail(_ context.Context, key string) (int, error) {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s.purgeLocked(sh, now)

	e := sh.entries[key]
	if e == nil || now.Sub(e.windowStart) >= s.window {
		sh.entries[key] = &entry{failures: 1, windowStart: now}
		return 1, nil
	}
	e.failures++
	return e.failures, nil
}

func (s *MemoryStore) Status(_ context.Context, key string) (Status, error) {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.entries[key]
	if e == nil || now.Sub(e.windowStart) >= s.window {
		return Status{}, nil
	}
	return Status{
		Failures:   e.failures,
		RetryAfter: e.windowStart.Add(s.window).Sub(now),
	}, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
	return nil
}

// purgeLocked drops entries older than twice the window. Runs at most once
// per window per shard to keep writes cheap.
func (s *MemoryStore) purgeLocked(sh *shard, now time.Time) {
	if now.Sub(sh.lastPurge) < s.window {
		return
	}
	sh.lastPurge = now
	for key, e := range sh.entries {
		if now.Sub(e.windowStart) >= 2*s.window {
			delete(sh.entries, key)
		}
	}
}
