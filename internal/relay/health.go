package relay

import (
	"sort"
	"sync"
	"time"
)

// RelayHealth is a point-in-time view of one relay's recent behaviour.
type RelayHealth struct {
	URL          string    `json:"url"`
	Healthy      bool      `json:"healthy"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	EventCount   int64     `json:"event_count"`
	FailureCount int64     `json:"failure_count"`
}

// HealthStats contains summary statistics across all tracked relays.
type HealthStats struct {
	RelaysHealthy int   `json:"relays_healthy"`
	RelaysTotal   int   `json:"relays_total"`
	TotalEvents   int64 `json:"total_events"`
	TotalFailures int64 `json:"total_failures"`
}

// HealthTracker is an in-memory registry of per-relay outcomes. A relay is
// healthy when its most recent operation succeeded.
type HealthTracker struct {
	mu     sync.RWMutex
	relays map[string]*RelayHealth
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{relays: make(map[string]*RelayHealth)}
}

func (t *HealthTracker) get(url string) *RelayHealth {
	if h, ok := t.relays[url]; ok {
		return h
	}
	h := &RelayHealth{URL: url}
	t.relays[url] = h
	return h
}

// RecordSuccess marks a relay healthy and adds the events it returned.
func (t *HealthTracker) RecordSuccess(url string, events int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(url)
	h.Healthy = true
	h.LastSuccess = time.Now()
	h.EventCount += int64(events)
}

// RecordFailure marks a relay unhealthy and records the error.
func (t *HealthTracker) RecordFailure(url string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(url)
	h.Healthy = false
	h.LastFailure = time.Now()
	if err != nil {
		h.LastError = err.Error()
	}
	h.FailureCount++
}

// Snapshot returns all tracked relays sorted by URL.
func (t *HealthTracker) Snapshot() []RelayHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RelayHealth, 0, len(t.relays))
	for _, h := range t.relays {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Stats returns summary statistics across all tracked relays.
func (t *HealthTracker) Stats() HealthStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stats HealthStats
	stats.RelaysTotal = len(t.relays)
	for _, h := range t.relays {
		if h.Healthy {
			stats.RelaysHealthy++
		}
		stats.TotalEvents += h.EventCount
		stats.TotalFailures += h.FailureCount
	}
	return stats
}
