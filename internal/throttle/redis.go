package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the throttle with Redis counters so multiple instances
// behind one cache share a single logical failure budget per key.
type RedisStore struct {
	client redis.UniversalClient
	window time.Duration
	prefix string
}

// NewRedisStore constructs a store over the given client.
func NewRedisStore(client redis.UniversalClient, window time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		window: window,
		prefix: "passport:throttle:",
	}
}

func (s *RedisStore) Fail(ctx context.Context, key string) (int, error) {
	count, err := s.client.Incr(ctx, s.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// TTL only for the first hit: fixed-window semantics, the window runs
	// from the first failure.
	if count == 1 {
		if err := s.client.Expire(ctx, s.prefix+key, s.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return int(count), nil
}

func (s *RedisStore) Status(ctx context.Context, key string) (Status, error) {
	count, err := s.client.Get(ctx, s.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ttl, err := s.client.PTTL(ctx, s.prefix+key).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return Status{Failures: int(count), RetryAfter: ttl}, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
