package client

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls retrying of failed chunk writes. A chunk is the unit
// of retry; individual entries are never retried separately.
type RetryConfig struct {
	Backoff           time.Duration `help:"Initial delay before the first retry"`
	MaxBackoff        time.Duration `help:"Upper bound for the retry delay"`
	BackoffMultiplier float64       `help:"Growth factor of the retry delay"`
	BackoffJitter     float64       `help:"Random jitter factor from 0.0 to 1.0"`
	MaxAttempts       int           `help:"Number of retries before giving up"`
	OnError           func(err error, attempt int)
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return cfg
}

// nextDelay returns the wait before retrying after the given failure count
// (1 for the first failure); false means give up
func (cfg RetryConfig) nextDelay(attempt int) (time.Duration, bool) {
	if attempt > cfg.MaxAttempts {
		return 0, false
	}
	return backoffDelay(cfg.Backoff, cfg.MaxBackoff, cfg.BackoffMultiplier, cfg.BackoffJitter, attempt), true
}

// backoffDelay computes delay = initial * multiplier^(attempt-1), with
// optional random jitter, clamped to max. Shared by write retries and socket
// reconnection.
func backoffDelay(initial, max time.Duration, multiplier, jitter float64, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*jitter
	}
	if max > 0 && delay > float64(max) {
		delay = float64(max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
