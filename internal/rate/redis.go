package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gg:rl:"

// RedisLimiter enforces the policy table with fixed-window Redis counters.
type RedisLimiter struct {
	redis    redis.UniversalClient
	policies Policies
	now      func() time.Time
}

// NewRedisLimiter returns a limiter backed by client. A nil policies uses
// DefaultPolicies and a nil now uses time.Now. Counter expiry runs on the
// Redis clock; now only dates ResetAt.
func NewRedisLimiter(client redis.UniversalClient, policies Policies, now func() time.Time) *RedisLimiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{redis: client, policies: policies.Clone(), now: now}
}

func counterKey(action Action, key string) string {
	return redisKeyPrefix + string(action) + ":" + key
}

func (l *RedisLimiter) Check(ctx context.Context, action Action, key string) (Decision, error) {
	pol, ok := l.policies[action]
	if !ok {
		return Decision{}, ErrUnknownAction
	}
	key = normalizeKey(pol.Scope, key)
	now := l.now().UTC()
	if key == "" {
		return Decision{Allowed: true, Remaining: pol.Max, ResetAt: now.Add(pol.Window)}, nil
	}
	k := counterKey(action, key)

	count, err := l.redis.Get(ctx, k).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		count = 0
	}
	if count < 0 {
		count = 0
	}

	resetAt := now.Add(pol.Window)
	if count > 0 {
		ttl, err := l.redis.PTTL(ctx, k).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ttl > 0 {
			resetAt = now.Add(ttl)
		}
	}

	if count < int64(pol.Max) {
		return Decision{Allowed: true, Remaining: pol.Max - int(count), ResetAt: resetAt}, nil
	}
	return Decision{Allowed: false, ResetAt: resetAt}, nil
}

// Record increments every window event counts toward.
func (l *RedisLimiter) Record(ctx context.Context, event *store.AuditEvent) error {
	for action, pol := range l.policies {
		key, ok := pol.counts(event)
		if !ok {
			continue
		}
		if _, err := l.incrementWithTTL(ctx, counterKey(action, normalizeKey(pol.Scope, key)), pol.Window); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the counter for one action and key. UnlockAccount uses it to
// reopen the login window.
func (l *RedisLimiter) Reset(ctx context.Context, action Action, key string) error {
	pol, ok := l.policies[action]
	if !ok {
		return ErrUnknownAction
	}
	if err := l.redis.Del(ctx, counterKey(action, normalizeKey(pol.Scope, key))).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// incrementWithTTL bumps the counter and, in the same MULTI/EXEC, gives it
// an expiry unless it already has one. A counter never outlives its window.
func (l *RedisLimiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}

var _ Limiter = (*RedisLimiter)(nil)
