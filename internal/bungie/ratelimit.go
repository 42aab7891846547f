package bungie

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calderareport/crawler/internal/telemetry"
)

// CounterStore is the subset of redis commands the limiter needs. Satisfied
// by *redis.Client; tests supply a fake.
type CounterStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Limiter is a distributed sliding-window rate limiter. Counters live in a
// shared store keyed by endpoint and wall-clock second, so every process
// crawling the same upstream shares one budget.
type Limiter struct {
	store   CounterStore
	ceiling int64
	now     func() time.Time
}

// NewLimiter builds a Limiter with the given per-endpoint-per-second ceiling.
func NewLimiter(store CounterStore, ceiling int64) *Limiter {
	if ceiling <= 0 {
		ceiling = 20
	}
	return &Limiter{
		store:   store,
		ceiling: ceiling,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until the endpoint has capacity in the current window,
// respecting the context.
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	for {
		wait, err := l.reserve(ctx, endpoint)
		if err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}
		telemetry.ObserveRateLimitWait(endpoint, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// reserve increments the current window's counter and returns how long the
// caller must wait before re-checking. Zero means the call may proceed now.
func (l *Limiter) reserve(ctx context.Context, endpoint string) (time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", endpoint, l.now().Format("20060102150405"))
	count, err := l.store.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, time.Second).Err(); err != nil {
			return 0, fmt.Errorf("expire rate counter: %w", err)
		}
	}
	if count <= l.ceiling {
		return 0, nil
	}
	ttl, err := l.store.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate counter ttl: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(50 * time.Millisecond)))
	return ttl + jitter, nil
}
