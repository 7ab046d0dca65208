package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy string

const (
	// BackoffExponential waits BaseDelay * Multiplier^(attempt-1).
	BackoffExponential BackoffStrategy = "exponential"
	// BackoffLinear waits BaseDelay * attempt.
	BackoffLinear BackoffStrategy = "linear"
)

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64
	Strategy     BackoffStrategy

	// RetryAll retries every error, not only core.IsRetryable ones.
	RetryAll bool

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
		Multiplier:   2.0,
		Strategy:     BackoffExponential,
		sleep:        Sleep,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.JitterFactor = factor
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Multiplier = m
	}
}

// WithLinearBackoff makes the delay grow by base for every attempt.
func WithLinearBackoff(base time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Strategy = BackoffLinear
		p.BaseDelay = base
		p.JitterFactor = 0
	}
}

// WithRetryAll retries every error regardless of its category.
func WithRetryAll() RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.RetryAll = true
	}
}

// WithSleeper replaces the wait between attempts. Tests use it to record
// delays without sleeping.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.sleep = sleep
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RetryableFunc is a function that can be retried. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// RetryNotifyFunc is called before each wait.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs the function with retry logic.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// ExecuteWithNotify runs with retry and notifications.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !p.RetryAll && !core.IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.CalculateDelay(attempt)
		if notify != nil {
			notify(attempt, err, delay)
		}

		if err := p.wait(ctx, delay); err != nil {
			return err
		}
	}

	return &RetryExhaustedError{
		Attempts: attempts,
		LastErr:  lastErr,
	}
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep == nil {
		return Sleep(ctx, d)
	}
	return p.sleep(ctx, d)
}

// CalculateDelay computes the delay for a given attempt.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.CalculateDelayNoJitter(attempt))
	if p.JitterFactor > 0 {
		delay = addJitter(delay, p.JitterFactor)
	}
	return time.Duration(delay)
}

// CalculateDelayNoJitter computes the delay without jitter.
func (p *RetryPolicy) CalculateDelayNoJitter(attempt int) time.Duration {
	var delay float64
	switch p.Strategy {
	case BackoffLinear:
		delay = float64(p.BaseDelay) * float64(attempt)
	default:
		delay = float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// addJitter adds random jitter to a delay.
func addJitter(delay float64, factor float64) float64 {
	jitter := delay * factor
	randomJitter := (rand.Float64()*2 - 1) * jitter
	return delay + randomJitter
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// RetryExhaustedError indicates all retry attempts failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var target *RetryExhaustedError
	return errors.As(err, &target)
}

// VerifiedWriteRetryPolicy is the write-then-read-back policy: 5 attempts,
// waiting 2s, 4s, 6s, 8s in between.
func VerifiedWriteRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(
		WithMaxAttempts(5),
		WithLinearBackoff(2*time.Second),
		WithMaxDelay(0),
		WithRetryAll(),
	)
}

// NavigationRetryPolicy is specialized for page loads in the ticketing app.
func NavigationRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(
		WithMaxAttempts(3),
		WithBaseDelay(time.Second),
		WithMaxDelay(10*time.Second),
		WithJitter(0.1),
	)
}
