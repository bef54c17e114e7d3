// Package resilience classifies query failures and retries transient ones with
// capped exponential backoff.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/giro-cli/internal/model"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// BackoffBase is the delay before the first retry. Default: 2s.
	BackoffBase time.Duration

	// BackoffCap caps the backoff duration. Default: 30s.
	BackoffCap time.Duration

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Default: 0.
	JitterFraction float64

	// OnRetry is called before each retry sleep with the subject being
	// retried (identifier or operation), the attempt number and the error.
	OnRetry func(subject string, attempt int, err error)
}

// DefaultRetryConfig returns the retry configuration used for portal queries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		BackoffCap:  30 * time.Second,
	}
}

// AttemptFunc performs one attempt for an identifier. attempt is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) ([]model.PaymentRecord, error)

// Policy runs attempts for one identifier and folds them into a QueryOutcome.
type Policy struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a Policy, filling unset config values with defaults.
func NewPolicy(cfg RetryConfig) *Policy {
	return &Policy{cfg: applyDefaults(cfg), sleep: sleepCtx}
}

// Config returns the effective configuration.
func (p *Policy) Config() RetryConfig {
	return p.cfg
}

// Run applies up to MaxAttempts invocations of fn. Transient failures are
// absorbed and end in a permanent-failure outcome once attempts run out.
// Session failures and context cancellation are returned as errors and are
// never retried here; the returned outcome still carries the attempt history.
func (p *Policy) Run(ctx context.Context, identifier string, fn AttemptFunc) (model.QueryOutcome, error) {
	out := model.QueryOutcome{Identifier: identifier}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		records, err := fn(ctx, attempt)
		status := Classify(records, err)

		out.Attempts = append(out.Attempts, model.Attempt{
			Number:     attempt,
			Status:     status,
			Reason:     Reason(err),
			DurationMs: time.Since(start).Milliseconds(),
		})

		if err == nil {
			out.Status = status
			out.Records = records
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return out, eris.Wrap(ctx.Err(), "retry: cancelled")
		}

		if status != model.OutcomeTransientFailure {
			return out, NewSessionError(err)
		}

		if attempt >= p.cfg.MaxAttempts {
			break
		}

		if p.cfg.OnRetry != nil {
			p.cfg.OnRetry(identifier, attempt, err)
		}

		if err := p.sleep(ctx, Backoff(attempt-1, p.cfg)); err != nil {
			return out, eris.Wrap(err, "retry: cancelled during backoff")
		}
	}

	out.Status = model.OutcomePermanentFailure
	out.Reason = Reason(lastErr)
	return out, nil
}

// Classify maps one attempt's result to an outcome status. Errors that are
// neither transient nor nil classify as permanent failures, which the policy
// escalates as session errors.
func Classify(records []model.PaymentRecord, err error) model.OutcomeStatus {
	switch {
	case err == nil && len(records) > 0:
		return model.OutcomeSuccess
	case err == nil:
		return model.OutcomeEmpty
	case IsTransient(err):
		return model.OutcomeTransientFailure
	default:
		return model.OutcomePermanentFailure
	}
}

// Backoff returns the delay before retry number attempt+1, where attempt is
// zero-based: BackoffBase × 2^attempt, capped at BackoffCap.
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	cfg = applyDefaults(cfg)
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(cfg.BackoffBase) * math.Pow(2, float64(attempt))
	if delay > float64(cfg.BackoffCap) {
		delay = float64(cfg.BackoffCap)
	}

	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger() func(string, int, error) {
	return func(subject string, attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("subject", subject),
			zap.Int("attempt", attempt),
			zap.String("reason", Reason(err)),
		)
	}
}
