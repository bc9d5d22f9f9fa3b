package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/types"
)

// Policy describes one retry schedule: bounded attempts with exponential
// backoff and optional jitter. A single Policy value is built at wiring
// time and shared by every retrying call site, so tuning happens in one
// place.
type Policy struct {
	// MaxAttempts bounds total tries including the first. Values below 1
	// are treated as 1.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor per retry.
	Multiplier float64

	// Jitter spreads delays by up to ±25% to avoid synchronized retries.
	Jitter bool

	// Classify decides whether an error is worth retrying. Nil selects
	// types.IsRetryable, which only passes errors explicitly marked
	// transient.
	Classify func(error) bool

	// OnRetry is invoked before each wait with the upcoming attempt
	// number, the error that triggered it and the chosen delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy matches the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer runs functions under a retry policy.
type Retryer interface {
	// Do runs fn, retrying transient failures per the policy.
	Do(ctx context.Context, fn func() error) error

	// DoWithResult runs fn and returns its result, retrying transient
	// failures per the policy.
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewRetryer builds a Retryer over a normalized copy of the policy.
func NewRetryer(policy Policy, logger *zap.Logger) Retryer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 100 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.Classify == nil {
		policy.Classify = types.IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, logger: logger.With(zap.String("component", "retry"))}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.delayFor(attempt - 1)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("resilience: retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.policy.Classify(err) {
			return nil, err
		}
	}

	r.logger.Warn("attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("resilience: %d attempts exhausted: %w", r.policy.MaxAttempts, lastErr)
}

// delayFor computes the backoff before the given retry (1-based):
// initial * multiplier^(retry-1), capped at MaxDelay, jittered ±25%,
// floored at InitialDelay.
func (r *backoffRetryer) delayFor(retry int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(retry-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}
