package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, window time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, window), mr
}

func TestRedisFailAndStatus(t *testing.T) {
	store, _ := newRedisStore(t, 15*time.Minute)
	ctx := context.Background()
	key := Key("203.0.113.7")

	for want := 1; want <= 3; want++ {
		count, err := store.Fail(ctx, key)
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
	}

	st, err := store.Status(ctx, key)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Failures != 3 {
		t.Fatalf("expected 3 failures, got %d", st.Failures)
	}
	if st.RetryAfter <= 0 || st.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected retry-after %v", st.RetryAfter)
	}
}

func TestRedisWindowExpiry(t *testing.T) {
	store, mr := newRedisStore(t, 15*time.Minute)
	ctx := context.Background()
	key := Key("203.0.113.7")

	for i := 0; i < 5; i++ {
		if _, err := store.Fail(ctx, key); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}

	mr.FastForward(15*time.Minute + time.Second)

	st, err := store.Status(ctx, key)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Failures != 0 {
		t.Fatalf("counter must expire with the window, got %d", st.Failures)
	}

	// The next failure starts a fresh window.
	count, err := store.Fail(ctx, key)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window, got %d", count)
	}
}

func TestRedisClear(t *testing.T) {
	store, _ := newRedisStore(t, 15*time.Minute)
	ctx := context.Background()
	key := Key("203.0.113.7")

	if _, err := store.Fail(ctx, key); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := store.Clear(ctx, key); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	st, err := store.Status(ctx, key)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Failures != 0 {
		t.Fatalf("expected cleared counter, got %d", st.Failures)
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, 15*time.Minute)
	mr.Close()

	if _, err := store.Fail(context.Background(), Key("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := store.Status(context.Background(), Key("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRedisThrottleEndToEnd(t *testing.T) {
	store, _ := newRedisStore(t, 15*time.Minute)
	gate := New(store, 5)
	ctx := context.Background()
	key := Key("203.0.113.7")

	for i := 0; i < 5; i++ {
		if _, err := gate.Allow(ctx, key); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if err := gate.RecordFailure(ctx, key); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if _, err := gate.Allow(ctx, key); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := gate.RecordSuccess(ctx, key); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if _, err := gate.Allow(ctx, key); err != nil {
		t.Fatalf("expected unlocked after success, got %v", err)
	}
}
