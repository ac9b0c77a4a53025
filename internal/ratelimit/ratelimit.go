package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles requests per target host.
type Limiter interface {
	Wait(ctx context.Context, host string) error
}

// Feedback lets the transport report how a host reacted so the limiter can
// slow down or recover.
type Feedback interface {
	RecordSuccess(host string)
	RecordThrottled(host string)
}

type HostLimiter struct {
	mu            sync.Mutex
	hosts         map[string]*hostState
	rps           rate.Limit
	burst         int
	minRPS        rate.Limit
	backoffFactor float64
	jitterMin     time.Duration
	jitterMax     time.Duration
}

type hostState struct {
	limiter      *rate.Limiter
	successCount int
}

type Options struct {
	RequestsPerSecond float64
	Burst             int
	// JitterMin/JitterMax add a random politeness pause after the token is
	// granted. Both zero disables it.
	JitterMin time.Duration
	JitterMax time.Duration
}

func NewHostLimiter(opts Options) *HostLimiter {
	rps := rate.Limit(opts.RequestsPerSecond)
	if opts.RequestsPerSecond <= 0 {
		rps = rate.Inf
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		hosts:         make(map[string]*hostState),
		rps:           rps,
		burst:         burst,
		minRPS:        rps / 8,
		backoffFactor: 0.5,
		jitterMin:     opts.JitterMin,
		jitterMax:     opts.JitterMax,
	}
}

func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	state := h.state(host)
	if err := state.limiter.Wait(ctx); err != nil {
		return err
	}

	delay := h.calculateJitter()
	if delay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// RecordThrottled halves the host's rate, bounded below by an eighth of the
// configured rate.
func (h *HostLimiter) RecordThrottled(host string) {
	if h.rps == rate.Inf {
		return
	}
	state := h.state(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	state.successCount = 0
	next := state.limiter.Limit() * rate.Limit(h.backoffFactor)
	if next < h.minRPS {
		next = h.minRPS
	}
	state.limiter.SetLimit(next)
}

// RecordSuccess restores the rate by 10% every five consecutive successes.
func (h *HostLimiter) RecordSuccess(host string) {
	if h.rps == rate.Inf {
		return
	}
	state := h.state(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	state.successCount++
	if state.successCount < 5 {
		return
	}
	state.successCount = 0

	next := state.limiter.Limit() * 1.1
	if next > h.rps {
		next = h.rps
	}
	state.limiter.SetLimit(next)
}

// Limit reports the current rate for host.
func (h *HostLimiter) Limit(host string) rate.Limit {
	return h.state(host).limiter.Limit()
}

func (h *HostLimiter) state(host string) *hostState {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.hosts[host]
	if !ok {
		state = &hostState{limiter: rate.NewLimiter(h.rps, h.burst)}
		h.hosts[host] = state
	}
	return state
}

func (h *HostLimiter) calculateJitter() time.Duration {
	if h.jitterMax <= 0 {
		return h.jitterMin
	}
	if h.jitterMin >= h.jitterMax {
		return h.jitterMin
	}

	delta := h.jitterMax - h.jitterMin
	return h.jitterMin + time.Duration(rand.Int63n(int64(delta)))
}
