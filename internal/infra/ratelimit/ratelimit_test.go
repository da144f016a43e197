package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/config"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryLimiterFixedWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: clock.Now})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, "device:dev-01", 2, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if decision.Remaining != 1-i {
			t.Fatalf("unexpected remaining: %d", decision.Remaining)
		}
	}
	decision, err := limiter.Allow(ctx, "device:dev-01", 2, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("third request should be limited")
	}
	if !decision.ResetAt.Equal(clock.now.Add(time.Minute)) {
		t.Fatalf("unexpected reset: %v", decision.ResetAt)
	}

	other, err := limiter.Allow(ctx, "device:dev-02", 2, time.Minute)
	if err != nil || !other.Allowed {
		t.Fatalf("other device should have its own window: %+v %v", other, err)
	}

	clock.now = clock.now.Add(time.Minute)
	decision, err = limiter.Allow(ctx, "device:dev-01", 2, time.Minute)
	if err != nil || !decision.Allowed {
		t.Fatalf("window should reset: %+v %v", decision, err)
	}
}

func TestMemoryLimiterCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: clock.Now, MaxKeys: 1})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "a", 1, time.Second); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if _, err := limiter.Allow(ctx, "b", 1, time.Second); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	clock.now = clock.now.Add(2 * time.Second)
	if _, err := limiter.Allow(ctx, "b", 1, time.Second); err != nil {
		t.Fatalf("expired keys should be reaped: %v", err)
	}
}

func TestMemoryLimiterDisabledLimit(t *testing.T) {
	decision, err := NewMemoryLimiter(MemoryLimiterConfig{}).Allow(context.Background(), "k", 0, time.Second)
	if err != nil || !decision.Allowed {
		t.Fatalf("zero limit should always allow: %+v %v", decision, err)
	}
}

func TestDecodeWindowCount(t *testing.T) {
	resetAt := time.Unix(1700000060, 0)
	decision, err := decodeWindowCount(int64(3), 2, resetAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Allowed || decision.Remaining != 0 || !decision.ResetAt.Equal(resetAt) {
		t.Fatalf("expected limited decision, got %+v", decision)
	}
	decision, err = decodeWindowCount(int64(1), 2, resetAt)
	if err != nil || !decision.Allowed || decision.Remaining != 1 {
		t.Fatalf("expected allowed decision, got %+v %v", decision, err)
	}
	for _, bad := range []any{"nope", []any{int64(1), int64(10)}, int64(0)} {
		if _, err := decodeWindowCount(bad, 2, resetAt); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestWindowKeyIsClockAligned(t *testing.T) {
	base := time.Unix(1700000040, 0).UTC()
	first, reset := windowKey("device:sonda-01:endpoint:ingest", base.Add(5*time.Second), time.Minute)
	second, _ := windowKey("device:sonda-01:endpoint:ingest", base.Add(55*time.Second), time.Minute)
	if first != second {
		t.Fatalf("readings in the same minute must share a counter: %s vs %s", first, second)
	}
	if first != "sensorgw:rl:{device:sonda-01:endpoint:ingest}:1700000040000" {
		t.Fatalf("unexpected key: %s", first)
	}
	if !reset.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected reset: %v", reset)
	}
	next, _ := windowKey("device:sonda-01:endpoint:ingest", base.Add(61*time.Second), time.Minute)
	if next == first {
		t.Fatal("the next minute must use a fresh counter")
	}
}

func TestRedisLimiterUnreachable(t *testing.T) {
	limiter, err := NewRedisLimiter(RedisLimiterConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	defer limiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := limiter.Allow(ctx, "device:dev-01", 1, time.Second); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Defaults()
	limiter, err := FromConfig(cfg)
	if err != nil || limiter != nil {
		t.Fatalf("expected disabled limiter, got %v %v", limiter, err)
	}
	cfg.RateLimitRequests = 5
	limiter, err = FromConfig(cfg)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if _, ok := limiter.(*MemoryLimiter); !ok {
		t.Fatalf("expected memory limiter, got %T", limiter)
	}
}
