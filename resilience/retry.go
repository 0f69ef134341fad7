package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alkimya/orchestrator-core/core"
)

// RetryConfig configures exponential backoff retry. Formula per attempt:
// delay = min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay), with
// optional jitter layered on top to avoid synchronized retries across
// concurrent node executions.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool

	// OnRetry, if set, is called after a retryable attempt fails and
	// before the backoff sleep for the next attempt. attempt is the
	// 1-based attempt number that just failed. Never called for the
	// final attempt (there is no next one to back off for) or for a
	// ConfigError/circuit-open rejection (neither is retried at all).
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig mirrors the PipelineDefinition-level retry defaults:
// up to 3 attempts, 1s initial backoff, 60s cap.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry executes fn with exponential backoff. It stops immediately — without
// spending a retry attempt — on a ConfigError or a circuit-open rejection,
// since neither will resolve differently on the next attempt. Any other
// error is treated as retryable up to MaxAttempts.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if core.IsConfigError(err) || core.IsCircuitOpen(err) {
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker combines Retry with a core.CircuitBreaker: each
// attempt runs through the breaker's Execute, so a trip partway through the
// retry loop surfaces as a breaker-open rejection and Retry stops at once
// instead of burning through the remaining attempts.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb core.CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}
