package forward

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

const defaultRetryJitter = 0.2

type Forwarder interface {
	Forward(ctx context.Context, env domain.SignedEnvelope) error
	Target() string
	Close() error
}

type RetryOptions struct {
	Attempts          int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            float64
	PerAttemptTimeout time.Duration
	Sleep             func(ctx context.Context, delay time.Duration) error
}

// Retrying retries transient delivery failures with exponential backoff.
// Envelopes are idempotent for the backend (device_id + seq + signature), so
// a duplicate after a lost response is acceptable.
type Retrying struct {
	next Forwarder
	opts RetryOptions
}

func NewRetrying(next Forwarder, opts RetryOptions) *Retrying {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = 0
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.Jitter <= 0 {
		opts.Jitter = defaultRetryJitter
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	return &Retrying{next: next, opts: opts}
}

func (r *Retrying) Target() string { return r.next.Target() }

func (r *Retrying) Close() error { return r.next.Close() }

func (r *Retrying) Forward(ctx context.Context, env domain.SignedEnvelope) error {
	delay := r.opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &domain.ForwardError{Target: r.Target(), Err: err}
		}
		lastErr = r.attempt(ctx, env)
		if lastErr == nil {
			return nil
		}
		if attempt >= r.opts.Attempts || !ShouldRetry(ctx, lastErr) {
			return lastErr
		}
		if err := r.opts.Sleep(ctx, jitterDuration(delay, r.opts.Jitter)); err != nil {
			return &domain.ForwardError{Target: r.Target(), Err: fmt.Errorf("retry sleep interrupted: %w", err)}
		}
		if delay > 0 {
			delay *= 2
			if delay > r.opts.MaxDelay {
				delay = r.opts.MaxDelay
			}
		}
	}
	return lastErr
}

func (r *Retrying) attempt(ctx context.Context, env domain.SignedEnvelope) error {
	if r.opts.PerAttemptTimeout <= 0 {
		return r.next.Forward(ctx, env)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.PerAttemptTimeout)
	defer cancel()
	return r.next.Forward(attemptCtx, env)
}

// ShouldRetry reports whether err is worth another attempt: transport
// failures and 408, 429 or 5xx responses. Caller cancellation never is.
func ShouldRetry(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fwdErr *domain.ForwardError
	if !errors.As(err, &fwdErr) {
		return false
	}
	if fwdErr.StatusCode == 0 {
		return true
	}
	return ShouldRetryHTTPStatus(fwdErr.StatusCode)
}

func ShouldRetryHTTPStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func jitterDuration(base time.Duration, jitter float64) time.Duration {
	if base <= 0 || jitter <= 0 {
		return base
	}
	window := int64(float64(base) * jitter)
	if window <= 0 {
		return base
	}
	delta := rand.Int63n((2 * window) + 1)
	adjustment := time.Duration(delta - window)
	if base+adjustment <= 0 {
		return base
	}
	return base + adjustment
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
