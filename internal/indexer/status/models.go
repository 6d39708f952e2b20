// Package status provides indexer health tracking and backoff management.
package status

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// BackoffConfig defines the backoff strategy for failing indexers.
type BackoffConfig struct {
	// FailureThreshold is the number of consecutive failures that suspends an indexer
	FailureThreshold int `mapstructure:"failureThreshold"`
	// InitialBackoff is the suspension window at the threshold
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	// MaxBackoff is the maximum suspension window
	MaxBackoff time.Duration `mapstructure:"maxBackoff"`
	// Multiplier is the factor by which backoff increases per further failure
	Multiplier float64 `mapstructure:"multiplier"`
	// RateLimitBackoff is the suspension window after a throttling response
	RateLimitBackoff time.Duration `mapstructure:"rateLimitBackoff"`
	// RateLimitMaxBackoff caps throttling suspensions
	RateLimitMaxBackoff time.Duration `mapstructure:"rateLimitMaxBackoff"`
}

// DefaultBackoffConfig returns the default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		FailureThreshold:    3,
		InitialBackoff:      5 * time.Minute,
		MaxBackoff:          3 * time.Hour,
		Multiplier:          2.0,
		RateLimitBackoff:    30 * time.Minute,
		RateLimitMaxBackoff: 6 * time.Hour,
	}
}

// Validate checks that throttling windows always exceed failure windows.
func (c BackoffConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.New("failure threshold must be at least 1")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid backoff window %s..%s", c.InitialBackoff, c.MaxBackoff)
	}
	if c.Multiplier < 1 {
		return errors.New("backoff multiplier must be at least 1")
	}
	if c.RateLimitBackoff <= c.InitialBackoff {
		return errors.New("rate limit backoff must be longer than the initial backoff")
	}
	if c.RateLimitMaxBackoff <= c.MaxBackoff {
		return errors.New("rate limit max backoff must be longer than the max backoff")
	}
	return nil
}

// FailureBackoff returns the suspension window for a failure count, or zero
// below the threshold.
func (c BackoffConfig) FailureBackoff(failures int) time.Duration {
	if failures < c.FailureThreshold {
		return 0
	}
	return scale(c.InitialBackoff, c.Multiplier, failures-c.FailureThreshold, c.MaxBackoff)
}

// RateLimitBackoffFor returns the throttling window for a failure count. It
// is strictly longer than FailureBackoff at the same position.
func (c BackoffConfig) RateLimitBackoffFor(failures int, retryAfter time.Duration) time.Duration {
	steps := failures - c.FailureThreshold
	if steps < 0 {
		steps = 0
	}
	d := scale(c.RateLimitBackoff, c.Multiplier, steps, c.RateLimitMaxBackoff)
	if retryAfter > d {
		d = retryAfter
		if d > c.RateLimitMaxBackoff {
			d = c.RateLimitMaxBackoff
		}
	}
	return d
}

func scale(base time.Duration, multiplier float64, steps int, ceiling time.Duration) time.Duration {
	f := float64(base) * math.Pow(multiplier, float64(steps))
	if f >= float64(ceiling) || math.IsInf(f, 0) {
		return ceiling
	}
	return time.Duration(f)
}
