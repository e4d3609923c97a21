package resilience

import (
	"math/rand/v2"
	"time"
)

// Config bounds how hard a backend is pushed before a call fails. Retries cover
// transient faults of a single call; the breaker covers a backend that keeps
// failing, so a question is refused quickly instead of waiting out every timeout.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// RetryJitter spreads each wait by up to this fraction in either direction.
	RetryJitter float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,
		RetryJitter:         0.2,

		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

// NoRetryConfig performs every call exactly once with the breaker disabled.
func NoRetryConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerEnabled = false
	return cfg
}

// withDefaults fills unset or out of range fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return fallback
	}

	if c.RetryMaxAttempts < 1 {
		c.RetryMaxAttempts = def.RetryMaxAttempts
	}
	c.RetryInitialBackoff = pick(c.RetryInitialBackoff, def.RetryInitialBackoff)
	c.RetryMaxBackoff = max(pick(c.RetryMaxBackoff, def.RetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}
	c.RetryJitter = min(max(c.RetryJitter, 0), 1)

	c.BreakerOpenTimeout = pick(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if !(c.BreakerFailureRatio > 0 && c.BreakerFailureRatio <= 1) {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerHalfOpenMaxCalls == 0 {
		c.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return c
}

// Backoff returns the wait after the given failed attempt, counting from 1.
// The exponential base is capped at RetryMaxBackoff before jitter is applied.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(c.RetryInitialBackoff)
	for i := 1; i < attempt && wait < float64(c.RetryMaxBackoff); i++ {
		wait *= c.RetryMultiplier
	}
	wait = min(wait, float64(c.RetryMaxBackoff))
	if c.RetryJitter > 0 {
		wait *= 1 + c.RetryJitter*(2*rand.Float64()-1)
	}
	return time.Duration(wait)
}
