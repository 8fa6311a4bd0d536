// Package resilience provides an availability gate for best-effort lookups.
//
// Unlike a full circuit breaker, the gate never fails a caller: when open it
// tells the caller to skip the network and use its degraded default. It
// exists for calls whose failure mode is "answer with the safe default"
// rather than "propagate an error" — deduplication lookups foremost.
package resilience

import (
	"sync"
	"time"
)

// Gate tracks consecutive failures and opens for a cooldown period once a
// threshold is reached.
type Gate struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
}

// NewGate creates a gate that opens after threshold consecutive failures
// and stays open for cooldown.
func NewGate(threshold int, cooldown time.Duration) *Gate {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Gate{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether the caller should attempt the network call.
// False means skip it and answer with the degraded default.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().After(g.openUntil)
}

// Success records a successful call and closes the gate.
func (g *Gate) Success() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.openUntil = time.Time{}
}

// Failure records a failed call, opening the gate once the threshold of
// consecutive failures is reached.
func (g *Gate) Failure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.failures >= g.threshold {
		g.openUntil = time.Now().Add(g.cooldown)
		g.failures = 0
	}
}
