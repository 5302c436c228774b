// Package retry provides utilities for retrying Bot API calls with configurable strategies
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Sleeper pauses the caller. Sleep returns early with ctx.Err() when ctx is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts an ordinary function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d)
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper sleeps on a timer
type RealSleeper struct{}

// Sleep implements Sleeper
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Strategy defines a retry strategy.
//
// When Backoff is set and returns ok for a failed attempt, its delay is used as is and the
// exponential schedule is left untouched. This is how server-provided hints such as
// retry_after take precedence over the local schedule.
type Strategy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          bool
	RetryableErrors func(error) bool
	Backoff         func(error) (time.Duration, bool)
	Sleeper         Sleeper
}

// DefaultStrategy returns a default retry strategy with exponential backoff
func DefaultStrategy() *Strategy {
	return &Strategy{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: IsRetryableError,
	}
}

// Do executes a function with retry logic
func Do(ctx context.Context, strategy *Strategy, fn func() error) error {
	_, err := DoWithResult(ctx, strategy, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, strategy *Strategy, fn func() (T, error)) (T, error) {
	var zero T
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	retryable := strategy.RetryableErrors
	if retryable == nil {
		retryable = IsRetryableError
	}
	sleeper := strategy.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper{}
	}
	attempts := max(strategy.MaxAttempts, 1)

	var lastErr error
	delay := strategy.InitialDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !retryable(err) {
			return zero, err
		}

		// Don't sleep after the last attempt
		if attempt == attempts-1 {
			break
		}

		wait, hinted := time.Duration(0), false
		if strategy.Backoff != nil {
			wait, hinted = strategy.Backoff(err)
		}
		if !hinted {
			wait = calculateDelay(delay, strategy)
			delay = wait
		}

		if err := sleeper.Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	if attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("max attempts (%d) reached: %w", attempts, lastErr)
}

// calculateDelay calculates the next delay with exponential backoff and optional jitter
func calculateDelay(delay time.Duration, strategy *Strategy) time.Duration {
	calculatedDelay := time.Duration(float64(delay) * strategy.Multiplier)
	if strategy.MaxDelay > 0 {
		calculatedDelay = min(calculatedDelay, strategy.MaxDelay)
	}

	if strategy.Jitter {
		jitter := time.Duration(rand.Float64() * float64(calculatedDelay) * 0.1)
		calculatedDelay = calculatedDelay + jitter
	}

	return calculatedDelay
}

// IsRetryableError checks if an error should be retried.
// It returns false for context cancellation/timeout errors, true for all others.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}
