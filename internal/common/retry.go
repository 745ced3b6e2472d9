package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Veraticus/subscription-copilot/internal/service"
)

var (
	// ErrRateLimit indicates that the API rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// rateLimitBackOff waits the full MaxDelay after a rate-limit response.
type rateLimitBackOff struct {
	backoff.BackOff
	lastErr  *error
	maxDelay time.Duration
}

func (b *rateLimitBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && errors.Is(*b.lastErr, ErrRateLimit) {
		return b.maxDelay
	}
	return next
}

// WithRetry executes an operation with exponential backoff. Errors marked
// non-retryable and auth failures stop immediately and are returned as-is.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = opts.InitialDelay
	expo.MaxInterval = opts.MaxDelay
	expo.Multiplier = opts.Multiplier
	expo.MaxElapsedTime = 0 // Bounded by attempts instead

	var lastErr error
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&rateLimitBackOff{BackOff: expo, lastErr: &lastErr, maxDelay: opts.MaxDelay}, uint64(opts.MaxAttempts-1)),
		ctx,
	)

	attempts := 0
	permanent := false
	err := backoff.RetryNotify(func() error {
		attempts++
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			permanent = true
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, policy, func(err error, delay time.Duration) {
		slog.Warn("Operation failed, retrying",
			"attempt", attempts,
			"max_attempts", opts.MaxAttempts,
			"delay", delay,
			"error", err)
	})

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempts, err)
	}
}

func isPermanent(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return !retryableErr.Retryable
	}
	return IsAuthError(err) || errors.Is(err, context.Canceled)
}
