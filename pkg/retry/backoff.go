// Package retry provides exponential backoff retry logic with jitter.
//
// It is used when applying operations to the remote system, where a single
// call may fail transiently:
//
//	cfg, err := retry.FromConfig(cfg.Sync)
//	if err != nil {
//		return err
//	}
//	err = retry.WithRetry(ctx, func() error {
//		return syncer.Enable(ctx, name)
//	}, cfg)
//
// # Jitter
//
// With jitter enabled, the actual delay is baseDelay * (0.5 + random(0, 0.5)).
//
// # Stopping early
//
// Wrap an error with Stop to give up immediately, for example when the
// remote system reports that a rule does not exist.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/migadu/protonfusion/config"
	"github.com/migadu/protonfusion/logger"
)

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      2,
	}
}

// FromConfig builds a backoff configuration from the [sync] settings.
func FromConfig(cfg config.SyncConfig) (BackoffConfig, error) {
	b := DefaultBackoffConfig()
	initial, err := cfg.GetInitialInterval()
	if err != nil {
		return b, fmt.Errorf("invalid sync initial_interval: %w", err)
	}
	maxInterval, err := cfg.GetMaxInterval()
	if err != nil {
		return b, fmt.Errorf("invalid sync max_interval: %w", err)
	}
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxRetries = cfg.MaxRetries
	return b, nil
}

func ExponentialBackoff(config BackoffConfig) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return config.InitialInterval
		}

		interval := float64(config.InitialInterval) * math.Pow(config.Multiplier, float64(attempt-1))

		if interval > float64(config.MaxInterval) {
			interval = float64(config.MaxInterval)
		}

		duration := time.Duration(interval)

		if config.Jitter && duration >= 2 {
			jitter := time.Duration(rand.Int63n(int64(duration / 2)))
			duration = duration/2 + jitter
		}

		return duration
	}
}

type RetryableFunc func() error

// StopError wraps an error to indicate that retries should stop immediately
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error to indicate that retries should stop immediately
func Stop(err error) error {
	return StopError{Err: err}
}

// WithRetry calls fn until it succeeds, returns an error wrapped by Stop,
// the retries run out or ctx is done.
func WithRetry(ctx context.Context, fn RetryableFunc, config BackoffConfig) error {
	backoff := ExponentialBackoff(config)

	var lastErr error
	var attempts int
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		attempts = attempt + 1
		if attempt > 0 {
			delay := backoff(attempt)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			var stopErr StopError
			if errors.As(err, &stopErr) {
				logger.Debug("Retry stopped", "attempt", attempts, "error", stopErr.Err)
				return stopErr.Err
			}
			logger.Debug("Retryable error", "attempt", attempts, "max_attempts", config.MaxRetries+1, "error", err)
			if attempt < config.MaxRetries {
				continue
			}
		} else {
			return nil
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
