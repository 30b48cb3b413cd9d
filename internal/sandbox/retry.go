package sandbox

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryPolicy configures exponential backoff for sandbox setup calls such as
// image pulls. Program executions are never retried.
type RetryPolicy struct {
	MaxRetries   int           // Maximum number of retry attempts (0 = no retries)
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay cap
	Multiplier   float64       // Exponential backoff multiplier (e.g., 2.0)
	Jitter       bool          // Whether to add random jitter to delays
}

// DefaultPullPolicy is used when pulling the sandbox image.
var DefaultPullPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	MaxDelay:     15 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

func retryWithPolicy(
	ctx context.Context,
	policy RetryPolicy,
	fn func(ctx context.Context) error,
	retryable func(error) bool,
	onRetry func(attempt int, delay time.Duration, err error),
) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= policy.MaxRetries {
			return err
		}

		delay := backoffDelay(policy, attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay // 0-20% jitter
	}
	return time.Duration(delay)
}

// isTransientPullError reports whether an image pull failure may succeed later.
// Missing images and auth failures never do.
func isTransientPullError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"not found", "manifest unknown", "unauthorized", "denied", "invalid reference"} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	return true
}
