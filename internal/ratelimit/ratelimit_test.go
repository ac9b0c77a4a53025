package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestHostLimiter_Unlimited(t *testing.T) {
	l := NewHostLimiter(Options{})

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "shop.example.com"))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, rate.Inf, l.Limit("shop.example.com"))
}

func TestHostLimiter_ThrottleAndRecover(t *testing.T) {
	l := NewHostLimiter(Options{RequestsPerSecond: 8, Burst: 1})

	l.RecordThrottled("a.example.com")
	assert.Equal(t, rate.Limit(4), l.Limit("a.example.com"))
	assert.Equal(t, rate.Limit(8), l.Limit("b.example.com"), "hosts are throttled independently")

	for i := 0; i < 10; i++ {
		l.RecordThrottled("a.example.com")
	}
	assert.Equal(t, rate.Limit(1), l.Limit("a.example.com"), "rate never drops below an eighth")

	for i := 0; i < 5; i++ {
		l.RecordSuccess("a.example.com")
	}
	assert.InDelta(t, 1.1, float64(l.Limit("a.example.com")), 0.001)

	for i := 0; i < 500; i++ {
		l.RecordSuccess("a.example.com")
	}
	assert.Equal(t, rate.Limit(8), l.Limit("a.example.com"), "recovery is capped at the configured rate")
}

func TestHostLimiter_WaitHonoursContext(t *testing.T) {
	l := NewHostLimiter(Options{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "slow.example.com")
	assert.Error(t, err)
}

func TestHostLimiter_Jitter(t *testing.T) {
	l := NewHostLimiter(Options{JitterMin: 5 * time.Millisecond, JitterMax: 10 * time.Millisecond})

	for i := 0; i < 20; i++ {
		d := l.calculateJitter()
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.Less(t, d, 10*time.Millisecond)
	}

	fixed := NewHostLimiter(Options{JitterMin: 3 * time.Millisecond})
	assert.Equal(t, 3*time.Millisecond, fixed.calculateJitter())
}
