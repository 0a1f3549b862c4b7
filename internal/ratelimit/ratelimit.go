// Package ratelimit provides fixed-window rate limiting, per entity and
// per key, for the daemon's HTTP surface.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a simple fixed-window rate limiter for a single entity.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
	}
}

// Allow returns true if the request is within the rate limit.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
	l.count++
	return l.count <= l.rate
}

// maxTrackedKeys bounds the per-key registry; beyond it, idle entries are
// evicted before new keys are admitted.
const maxTrackedKeys = 10000

// PerKey tracks an independent fixed-window Limiter per key, typically a
// client IP.
type PerKey struct {
	mu       sync.Mutex
	rate     int
	window   time.Duration
	limiters map[string]*entry
}

type entry struct {
	limiter  *Limiter
	lastSeen time.Time
}

// NewPerKey creates a registry allowing rate requests per window for each
// distinct key.
func NewPerKey(rate int, window time.Duration) *PerKey {
	return &PerKey{
		rate:     rate,
		window:   window,
		limiters: make(map[string]*entry),
	}
}

// Allow returns true if the request for key is within its rate limit.
func (p *PerKey) Allow(key string) bool {
	p.mu.Lock()
	e, ok := p.limiters[key]
	if !ok {
		if len(p.limiters) >= maxTrackedKeys {
			p.pruneLocked()
		}
		e = &entry{limiter: New(p.rate, p.window)}
		p.limiters[key] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()

	return e.limiter.Allow()
}

// pruneLocked drops entries idle for more than two windows. If every entry
// is fresh, the least recently seen one is dropped instead so the map
// never grows past the cap.
func (p *PerKey) pruneLocked() {
	cutoff := time.Now().Add(-2 * p.window)
	var (
		oldestKey  string
		oldestSeen time.Time
		dropped    bool
	)
	for key, e := range p.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(p.limiters, key)
			dropped = true
			continue
		}
		if oldestKey == "" || e.lastSeen.Before(oldestSeen) {
			oldestKey, oldestSeen = key, e.lastSeen
		}
	}
	if !dropped && oldestKey != "" {
		delete(p.limiters, oldestKey)
	}
}

// Tracked returns the number of keys currently tracked.
func (p *PerKey) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}
