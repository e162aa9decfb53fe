package jobs

import "time"

// RetryConfig is the retry policy of a job type. The store applies it when
// deciding whether a failed job is eligible again.
type RetryConfig struct {
	// MaxRetries is the number of consecutive failures after which aggressive
	// retrying stops and the job falls back to its regular interval.
	// -1 means retry indefinitely.
	MaxRetries int
	// InitialInterval is the delay after the first failure.
	InitialInterval time.Duration
	// MaxCooloff caps the exponential backoff.
	MaxCooloff time.Duration
}

// UnlimitedRetries marks a RetryConfig that never gives up.
const UnlimitedRetries = -1

var (
	DefaultRetry   = RetryConfig{MaxRetries: 3, InitialInterval: 30 * time.Second, MaxCooloff: 5 * time.Minute}
	SyncRetry      = RetryConfig{MaxRetries: 5, InitialInterval: 30 * time.Second, MaxCooloff: 5 * time.Minute}
	AnalyticsRetry = RetryConfig{MaxRetries: 3, InitialInterval: time.Minute, MaxCooloff: 30 * time.Minute}
	InfiniteRetry  = RetryConfig{MaxRetries: UnlimitedRetries, InitialInterval: 0, MaxCooloff: 5 * time.Minute}
)

// Exhausted reports whether failures has reached MaxRetries.
func (c RetryConfig) Exhausted(failures int) bool {
	return c.MaxRetries >= 0 && failures >= c.MaxRetries
}

// Backoff returns the delay after the given number of consecutive failures:
// InitialInterval doubled per failure, capped at MaxCooloff. With a zero
// InitialInterval the first retry is immediate and later ones wait MaxCooloff.
func (c RetryConfig) Backoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	if c.InitialInterval <= 0 {
		if failures == 1 {
			return 0
		}
		return c.MaxCooloff
	}

	delay := c.InitialInterval
	for i := 1; i < failures; i++ {
		delay *= 2
		if c.MaxCooloff > 0 && delay >= c.MaxCooloff {
			return c.MaxCooloff
		}
	}
	if c.MaxCooloff > 0 && delay > c.MaxCooloff {
		return c.MaxCooloff
	}
	return delay
}

// RetryDelay returns how long after the last attempt the job becomes eligible
// again. A retry never waits longer than the regular interval, and once
// retries are exhausted the regular interval applies.
func (c RetryConfig) RetryDelay(failures int, interval time.Duration) time.Duration {
	if failures <= 0 || c.Exhausted(failures) {
		return interval
	}
	if backoff := c.Backoff(failures); backoff < interval {
		return backoff
	}
	return interval
}
