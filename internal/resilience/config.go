package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. Non-positive
// values keep the defaults.
func FromRetryConfig(maxAttempts, backoffBaseMs, backoffCapMs int, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if backoffBaseMs > 0 {
		cfg.BackoffBase = time.Duration(backoffBaseMs) * time.Millisecond
	}
	if backoffCapMs > 0 {
		cfg.BackoffCap = time.Duration(backoffCapMs) * time.Millisecond
	}
	if jitterFraction > 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}
