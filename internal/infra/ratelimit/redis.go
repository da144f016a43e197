package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

const redisKeyPrefix = "sensorgw:rl:"

// RedisLimiter shares per-device windows between gateway replicas. Windows
// are aligned to the wall clock, so every replica agrees on where a device's
// window ends no matter which one saw its first reading.
type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

var incrWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

type RedisLimiterConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	Now         func() time.Time
}

func NewRedisLimiter(cfg RedisLimiterConfig) (*RedisLimiter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return NewRedisLimiterWithClient(redis.NewClient(opts), cfg.Now), nil
}

func NewRedisLimiterWithClient(client redis.UniversalClient, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, length time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if length < time.Millisecond {
		length = time.Second
	}
	counterKey, resetAt := windowKey(key, r.now(), length)
	result, err := incrWindowScript.Run(ctx, r.client, []string{counterKey}, length.Milliseconds()).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	return decodeWindowCount(result, limit, resetAt)
}

// windowKey names the counter of the window containing now. The hash tag
// keeps all windows of one device on a single cluster slot.
func windowKey(key string, now time.Time, length time.Duration) (string, time.Time) {
	start := now.Truncate(length)
	return fmt.Sprintf("%s{%s}:%d", redisKeyPrefix, key, start.UnixMilli()), start.Add(length)
}

func decodeWindowCount(result any, limit int, resetAt time.Time) (domain.RateLimitDecision, error) {
	current, ok := result.(int64)
	if !ok || current < 1 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit response")
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
