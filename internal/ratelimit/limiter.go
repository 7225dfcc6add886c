// Package ratelimit throttles MCP tool calls with per-key token buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited reports a call rejected because its bucket is empty.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter holds one token bucket per key. Buckets start full and refill at
// rate tokens per second up to burst. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewLimiter creates a limiter refilling rate tokens per second with the
// given burst capacity.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), last: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+l.rate*elapsed, float64(l.burst))
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// ToolLimiters maps MCP tool names to their limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters returns the default limits for rulesim's tools.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"rulesim_generate_tree": NewLimiter(1.0, 10),    // 60/minute, burst 10
		"rulesim_sample":        NewLimiter(30.0/60, 5), // 30/minute, burst 5
		"rulesim_run":           NewLimiter(6.0/60, 2),  // 6/minute, burst 2
		"rulesim_runs":          NewLimiter(1.0, 10),    // 60/minute, burst 10
	}
}

// Check takes a token for tool. Tools without a limiter are never limited.
func (t ToolLimiters) Check(tool string) error {
	limiter, ok := t[tool]
	if !ok {
		return nil
	}
	if !limiter.Allow(tool) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrLimited, tool)
	}
	return nil
}
