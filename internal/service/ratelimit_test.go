package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_BurstThenEmpty(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	limiter := newRateLimiterWithClock(RateLimiterConfig{MaxTokens: 3, RefillRate: 1}, clock.Now)

	assert.True(t, limiter.TryAcquire())
	assert.True(t, limiter.TryAcquire())
	assert.True(t, limiter.TryAcquire())
	assert.False(t, limiter.TryAcquire())
}

func TestRateLimiter_Refill(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	limiter := newRateLimiterWithClock(RateLimiterConfig{MaxTokens: 2, RefillRate: 2}, clock.Now)

	require.True(t, limiter.TryAcquire())
	require.True(t, limiter.TryAcquire())
	require.False(t, limiter.TryAcquire())

	clock.Advance(500 * time.Millisecond)
	assert.True(t, limiter.TryAcquire())

	clock.Advance(10 * time.Second)
	assert.InDelta(t, 2.0, limiter.Available(), 0.001)
}

func TestRateLimiter_AcquireHonoursContext(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	limiter := newRateLimiterWithClock(RateLimiterConfig{MaxTokens: 1, RefillRate: 0.001}, clock.Now)
	require.True(t, limiter.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_InvalidConfigFallsBack(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{})
	assert.Equal(t, DefaultRateLimiterConfig().RefillRate, limiter.RefillRate())
	assert.True(t, limiter.TryAcquire())
}

func TestAdaptiveRateLimiter_ThrottleAndRecover(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimiterConfig{MaxTokens: 5, RefillRate: 1})

	limiter.RecordThrottle()
	assert.InDelta(t, 0.5, limiter.RefillRate(), 0.0001)

	for i := 0; i < 10; i++ {
		limiter.RecordThrottle()
	}
	assert.InDelta(t, 0.1, limiter.RefillRate(), 0.0001)

	for i := 0; i < 5; i++ {
		limiter.RecordSuccess()
	}
	assert.InDelta(t, 0.125, limiter.RefillRate(), 0.0001)

	for i := 0; i < 200; i++ {
		limiter.RecordSuccess()
	}
	assert.InDelta(t, 1.0, limiter.RefillRate(), 0.0001)
}
