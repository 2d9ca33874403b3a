package monitor

import (
	"fmt"
	"math"
	"time"
)

// Config controls scheduling, retries and outbound call limits.
type Config struct {
	// Interval is the period between ticks.
	Interval time.Duration `toml:"interval" env:"INTERVAL"`
	// MaxRetries is the number of retries after the first attempt. An entry
	// whose attempt count exceeds it is marked Failed.
	MaxRetries uint32 `toml:"max_retries" env:"MAX_RETRIES"`
	// BaseDelay and MaxDelay bound the exponential backoff.
	BaseDelay time.Duration `toml:"base_delay" env:"BASE_DELAY"`
	MaxDelay  time.Duration `toml:"max_delay" env:"MAX_DELAY"`
	// Jitter is the fraction of the delay added or removed at random, in [0,1).
	Jitter float64 `toml:"jitter" env:"JITTER"`
	// Concurrency caps bridge calls in flight during a tick.
	Concurrency int `toml:"concurrency" env:"CONCURRENCY"`
	// RatePerMinute caps bridge calls per minute. Zero disables the limit.
	RatePerMinute int `toml:"rate_per_minute" env:"RATE_PER_MINUTE"`
	// CallTimeout bounds a single submit or poll call.
	CallTimeout time.Duration `toml:"call_timeout" env:"CALL_TIMEOUT"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		MaxRetries:    3,
		BaseDelay:     5 * time.Second,
		MaxDelay:      5 * time.Minute,
		Jitter:        0.2,
		Concurrency:   4,
		RatePerMinute: 60,
		CallTimeout:   30 * time.Second,
	}
}

// Validate checks that every value is in range.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	case c.BaseDelay <= 0:
		return fmt.Errorf("%w: base_delay must be positive", ErrInvalidConfig)
	case c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("%w: max_delay %s is below base_delay %s", ErrInvalidConfig, c.MaxDelay, c.BaseDelay)
	case c.Jitter < 0 || c.Jitter >= 1:
		return fmt.Errorf("%w: jitter %v not in [0,1)", ErrInvalidConfig, c.Jitter)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	case c.RatePerMinute < 0:
		return fmt.Errorf("%w: rate_per_minute must not be negative", ErrInvalidConfig)
	case c.CallTimeout <= 0:
		return fmt.Errorf("%w: call_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Backoff returns the delay before the next attempt once attempts attempts
// have been made: min(MaxDelay, BaseDelay*2^attempts) scaled by a jitter
// factor in [1-Jitter, 1+Jitter). rnd returns values in [0,1).
func (c Config) Backoff(attempts uint32, rnd func() float64) time.Duration {
	d := c.MaxDelay
	if attempts < 63 {
		if exp := float64(c.BaseDelay) * math.Pow(2, float64(attempts)); exp < float64(c.MaxDelay) {
			d = time.Duration(exp)
		}
	}
	if c.Jitter > 0 && rnd != nil {
		d = time.Duration(float64(d) * (1 + c.Jitter*(2*rnd()-1)))
	}
	if d < 0 {
		return 0
	}
	return d
}
