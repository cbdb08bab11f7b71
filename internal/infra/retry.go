package infra

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy is how the delay between attempts grows.
// upstream.Client.Connect uses BackoffExponential for its live dial
// retry and BackoffConstant in tests where a fixed short delay keeps
// the suite fast; there is no linear-backoff caller in this gateway,
// so that strategy isn't carried.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig configures Retry. The only caller is
// upstream.Client.Connect's dial step, retrying the outbound WebSocket
// handshake against transient network failures without costing a
// session before it even starts.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the first attempt (0 =
	// try once, no retries).
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     BackoffStrategy

	// JitterFraction adds +/- this fraction of randomness to each delay
	// (0.0-1.0), so a burst of sessions reconnecting at once doesn't
	// retry upstream in lockstep.
	JitterFraction float64

	// RetryIf decides whether a given error should be retried. Nil
	// retries everything except context cancellation/deadline errors.
	RetryIf func(error) bool
}

// RetryResult reports how a Retry call went.
type RetryResult struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// Retry runs fn, retrying per cfg until it succeeds, a non-retryable
// error is hit, attempts are exhausted, or ctx is done.
func Retry[T any](ctx context.Context, cfg *RetryConfig, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var zero T
	result := &RetryResult{}
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return zero, result
		}

		val, err := fn(ctx)
		if err == nil {
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			return val, result
		}
		result.LastError = err

		if !shouldRetry(cfg, err) {
			result.TotalDuration = time.Since(start)
			return zero, result
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(cfg, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return zero, result
		}
	}

	result.TotalDuration = time.Since(start)
	return zero, result
}

func shouldRetry(cfg *RetryConfig, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if cfg.RetryIf != nil {
		return cfg.RetryIf(err)
	}
	return true
}

func calculateDelay(cfg *RetryConfig, attempt int) time.Duration {
	var delay time.Duration
	switch cfg.Strategy {
	case BackoffConstant:
		delay = cfg.InitialDelay
	case BackoffExponential:
		delay = time.Duration(float64(cfg.InitialDelay) * math.Pow(2, float64(attempt)))
	default:
		delay = cfg.InitialDelay
	}

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterFraction > 0 {
		delay = addJitter(delay, cfg.JitterFraction)
	}
	return delay
}

func addJitter(d time.Duration, fraction float64) time.Duration {
	jitter := float64(d) * fraction
	delta := (rand.Float64()*2 - 1) * jitter
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		result = 0
	}
	return result
}
