// Package retry runs fallible operations with bounded attempts, a linear
// delay between attempts, and a hard per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapping the last failure) once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
)

// Policy configures Do. The zero value runs three attempts with a two second
// base delay and no per-attempt timeout. A negative BaseDelay retries immediately.
type Policy struct {
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number to get the wait before the next attempt.
	BaseDelay time.Duration
	// AttemptTimeout bounds each attempt. Zero disables the bound.
	AttemptTimeout time.Duration
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, wait time.Duration, err error)
	// Retryable, when set, stops retrying early for errors it rejects.
	Retryable func(err error) bool
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) delay(attempt int) time.Duration {
	switch {
	case p.BaseDelay < 0:
		return 0
	case p.BaseDelay == 0:
		return defaultBaseDelay * time.Duration(attempt)
	default:
		return p.BaseDelay * time.Duration(attempt)
	}
}

// Do runs op until it succeeds, attempts run out, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

type outcome[T any] struct {
	value T
	err   error
}

// Value is Do for operations producing a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled before attempt %d: %w", attempt, err)
		}
		value, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled after attempt %d: %w: %w", attempt, ctx.Err(), err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}
		wait := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if !sleep(ctx, wait) {
			return zero, fmt.Errorf("retry cancelled while waiting: %w", ctx.Err())
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}

// runAttempt races op against the attempt timeout. An operation that ignores
// its context is abandoned rather than awaited.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-attemptCtx.Done():
		return zero, fmt.Errorf("attempt timed out: %w", attemptCtx.Err())
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
