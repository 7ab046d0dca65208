package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	MaxTokens  float64 // Maximum bucket capacity
	RefillRate float64 // Tokens added per second
}

// DefaultRateLimiterConfig matches the Sheets API per-user quota of
// 60 requests per minute.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:  10,
		RefillRate: 1,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiterWithClock(cfg, time.Now)
}

func newRateLimiterWithClock(cfg RateLimiterConfig, now func() time.Time) *RateLimiter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultRateLimiterConfig().RefillRate
	}
	return &RateLimiter{
		tokens:     cfg.MaxTokens,
		maxTokens:  cfg.MaxTokens,
		refillRate: cfg.RefillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Acquire blocks until a token is available or context is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		waitTime := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		if err := Sleep(ctx, waitTime); err != nil {
			return err
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// RefillRate returns the current refill rate.
func (r *RateLimiter) RefillRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refillRate
}

func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now

	r.tokens += elapsed.Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}

// AdaptiveRateLimiter halves its rate when the remote side reports quota
// errors and slowly recovers after consecutive successes.
type AdaptiveRateLimiter struct {
	*RateLimiter
	adaptiveMu    sync.Mutex
	consecutiveOK int
	minRefillRate float64
	maxRefillRate float64
}

// NewAdaptiveRateLimiter creates an adaptive rate limiter.
func NewAdaptiveRateLimiter(cfg RateLimiterConfig) *AdaptiveRateLimiter {
	limiter := NewRateLimiter(cfg)
	return &AdaptiveRateLimiter{
		RateLimiter:   limiter,
		minRefillRate: limiter.refillRate * 0.1,
		maxRefillRate: limiter.refillRate,
	}
}

// RecordSuccess indicates a successful request.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.adaptiveMu.Lock()
	defer a.adaptiveMu.Unlock()

	a.consecutiveOK++
	if a.consecutiveOK < 5 {
		return
	}
	a.consecutiveOK = 0

	a.RateLimiter.mu.Lock()
	defer a.RateLimiter.mu.Unlock()
	newRate := a.RateLimiter.refillRate * 1.25
	if newRate > a.maxRefillRate {
		newRate = a.maxRefillRate
	}
	a.RateLimiter.refillRate = newRate
}

// RecordThrottle indicates the remote side rejected a request for quota.
func (a *AdaptiveRateLimiter) RecordThrottle() {
	a.adaptiveMu.Lock()
	defer a.adaptiveMu.Unlock()

	a.consecutiveOK = 0

	a.RateLimiter.mu.Lock()
	defer a.RateLimiter.mu.Unlock()
	newRate := a.RateLimiter.refillRate * 0.5
	if newRate < a.minRefillRate {
		newRate = a.minRefillRate
	}
	a.RateLimiter.refillRate = newRate
}
