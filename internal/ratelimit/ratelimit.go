// Package ratelimit provides the token-bucket limiter every live broker
// adapter gates its API calls through. The bucket refills continuously,
// so a configured 200 req / 60 s budget spends smoothly instead of in
// window-edge bursts.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous
// refill. Callers block in Wait() until a token is available or the
// context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// New creates a rate limiter with the given capacity and refill rate.
func New(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// NewPerWindow creates a limiter sized for "n requests per window",
// the shape broker API docs state limits in. The default broker budget
// is 200 requests per 60 seconds.
func NewPerWindow(n int, window time.Duration) *TokenBucket {
	return New(float64(n), float64(n)/window.Seconds())
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// Available reports the tokens currently in the bucket, for metrics.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	tokens := tb.tokens + now.Sub(tb.lastTime).Seconds()*tb.rate
	if tokens > tb.capacity {
		tokens = tb.capacity
	}
	return tokens
}
