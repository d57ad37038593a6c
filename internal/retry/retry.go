// Package retry executes operations with per-attempt timeouts and exponential
// backoff, short-circuiting on failures that retrying cannot fix.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/enviofleett/ordersync/internal/classify"
)

// Config defines retry behavior.
//
// MaxAttempts is the total number of tries, including the first.
// BaseDelay is the wait after the first failed attempt.
// ExponentialBackoff doubles the delay after each failure; when false the
// delay stays flat at BaseDelay.
// Timeout bounds each individual attempt.
// OnRetry, when set, observes every failed attempt with its 1-based number.
// Wired to metrics and attempt logging.
type Config struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	ExponentialBackoff bool
	Timeout            time.Duration
	OnRetry            func(ctx context.Context, attempt int, err error)
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		BaseDelay:          1 * time.Second,
		ExponentialBackoff: true,
		Timeout:            30 * time.Second,
	}
}

// Delay returns how long to wait after failed attempt number attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	if !c.ExponentialBackoff {
		return c.BaseDelay
	}
	return c.BaseDelay << (attempt - 1)
}

// Do runs op with retries according to cfg. See DoWithResult.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoWithResult runs op up to cfg.MaxAttempts times. Each attempt gets a child
// context cancelled after cfg.Timeout; an attempt that outlives its deadline
// counts as a timeout failure and its late result is discarded (cancellation
// is advisory for operations that ignore their context). Failures classified
// as authentication or rate limit abort immediately: neither is transient, so
// hammering the backend only makes things worse. The final error is returned
// to the caller, never swallowed.
func DoWithResult[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := runAttempt(ctx, cfg.Timeout, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.OnRetry != nil {
			cfg.OnRetry(ctx, attempt, err)
		}

		c := classify.Classify(err)
		if c.Kind == classify.KindAuthentication || c.Kind == classify.KindRateLimit {
			return zero, err
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
		}

		if attempt < cfg.MaxAttempts {
			timer := time.NewTimer(cfg.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt races op against the per-attempt deadline. The op goroutine
// writes to a buffered channel so a late completion never blocks or leaks.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		value, err := op(attemptCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("operation timed out after %s", timeout)
	}
}
