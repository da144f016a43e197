package ratelimit

import (
	"github.com/mateusicomp/aqua-monitor/internal/config"
	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type Limiter interface {
	domain.RateLimiter
	Close() error
}

// FromConfig returns nil when rate limiting is disabled.
func FromConfig(cfg config.Config) (Limiter, error) {
	if cfg.RateLimitRequests <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr != "" {
		limiter, err := NewRedisLimiter(RedisLimiterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return limiter, nil
	}
	return NewMemoryLimiter(MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys}), nil
}
