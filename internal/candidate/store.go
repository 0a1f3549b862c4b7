package candidate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeletor/ai-wot/internal/wot"
)

// Config tunes a Store. The zero value gets sensible defaults.
type Config struct {
	// MaxAge is how long a pending candidate stays actionable. Expiry is
	// assessed lazily on enumeration. 0 means 24 hours.
	MaxAge time.Duration

	// MaxCandidates bounds the store. On overflow the oldest terminal
	// candidate is evicted, or the oldest pending when no terminal one
	// exists. 0 means 1000.
	MaxCandidates int

	// Persist, when set, receives the full exported list synchronously
	// after every state change. Errors are swallowed so in-memory state
	// stays consistent.
	Persist func([]Candidate) error

	// OnAdd, when set, is notified of every newly added candidate.
	OnAdd func(Candidate)

	// Clock supplies the current time. Tests pin it.
	Clock func() time.Time

	Logger *zap.Logger
}

// Store is the mutex-guarded candidate queue. All operations are
// sequential per store; transitions per candidate are strictly ordered.
type Store struct {
	mu         sync.Mutex
	candidates map[string]*Candidate
	cfg        Config
	log        *zap.Logger
}

// NewStore builds a Store from cfg, filling in defaults.
func NewStore(cfg Config) *Store {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 1000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		candidates: make(map[string]*Candidate),
		cfg:        cfg,
		log:        log,
	}
}

// newID generates a 16-hex local candidate id.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Add validates and enqueues a proposal as pending. The returned
// candidate carries the assigned id and timestamps.
func (s *Store) Add(c Candidate) (Candidate, error) {
	if err := validate(c); err != nil {
		return Candidate{}, err
	}

	now := s.cfg.Clock()
	c.ID = newID()
	c.Status = StatusPending
	c.CreatedAt = now
	c.UpdatedAt = now
	c.PublishedEventID = ""
	c.RejectReason = ""

	s.mu.Lock()
	if len(s.candidates) >= s.cfg.MaxCandidates {
		s.evictLocked()
	}
	s.candidates[c.ID] = &c
	s.persistLocked()
	s.mu.Unlock()

	if s.cfg.OnAdd != nil {
		s.cfg.OnAdd(c)
	}
	return c, nil
}

// evictLocked frees one slot: the oldest terminal candidate if any
// exists, otherwise the oldest pending one.
func (s *Store) evictLocked() {
	var oldestTerminal, oldestPending *Candidate
	for _, c := range s.candidates {
		switch {
		case c.Status.Terminal():
			if oldestTerminal == nil || olderThan(c, oldestTerminal) {
				oldestTerminal = c
			}
		case c.Status == StatusPending:
			if oldestPending == nil || olderThan(c, oldestPending) {
				oldestPending = c
			}
		}
	}
	victim := oldestTerminal
	if victim == nil {
		victim = oldestPending
	}
	if victim != nil {
		delete(s.candidates, victim.ID)
	}
}

// olderThan orders candidates by creation time, ties by id, so eviction
// is deterministic.
func olderThan(a, b *Candidate) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Filter selects candidates for List. Zero fields match everything.
type Filter struct {
	Status Status
	Target string
	Source string
	Limit  int // 0 means 50
}

// List returns matching candidates, newest first. Pending candidates
// past MaxAge are moved to expired before filtering.
func (s *Store) List(f Filter) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	out := make([]Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Target != "" && c.TargetKey != f.Target {
			continue
		}
		if f.Source != "" && c.Source != f.Source {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns a candidate by id.
func (s *Store) Get(id string) (Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// expireLocked lazily moves over-age pending candidates to expired.
func (s *Store) expireLocked() {
	now := s.cfg.Clock()
	changed := false
	for _, c := range s.candidates {
		if c.Status == StatusPending && now.Sub(c.CreatedAt) > s.cfg.MaxAge {
			c.Status = StatusExpired
			c.UpdatedAt = now
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
}

// Edits are the optional changes applied on confirmation. Empty fields
// keep the existing value; metadata keys are merged in.
type Edits struct {
	Comment  string
	Type     wot.Type
	Metadata map[string]string
}

// Confirm moves a pending candidate to confirmed, applying edits.
func (s *Store) Confirm(id string, edits Edits) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	if c.Status != StatusPending {
		return Candidate{}, ErrNotPending
	}
	if edits.Type != "" && !edits.Type.Known() {
		return Candidate{}, fmt.Errorf("unknown attestation type %q", edits.Type)
	}

	if edits.Comment != "" {
		c.Comment = edits.Comment
	}
	if edits.Type != "" {
		c.Type = edits.Type
	}
	if len(edits.Metadata) > 0 {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, len(edits.Metadata))
		}
		for k, v := range edits.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Status = StatusConfirmed
	c.UpdatedAt = s.cfg.Clock()
	s.persistLocked()
	return *c, nil
}

// Reject moves a pending candidate to rejected, recording the reason.
func (s *Store) Reject(id, reason string) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	if c.Status != StatusPending {
		return Candidate{}, ErrNotPending
	}

	c.Status = StatusRejected
	c.RejectReason = reason
	c.UpdatedAt = s.cfg.Clock()
	s.persistLocked()
	return *c, nil
}

// MarkPublished moves a confirmed candidate to published, recording the
// attestation event id.
func (s *Store) MarkPublished(id, eventID string) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	if c.Status != StatusConfirmed {
		return Candidate{}, ErrNotConfirmed
	}

	c.Status = StatusPublished
	c.PublishedEventID = eventID
	c.UpdatedAt = s.cfg.Clock()
	s.persistLocked()
	return *c, nil
}

// Stats summarises the store by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
	Published int `json:"published"`
	Expired   int `json:"expired"`
}

// Stats counts candidates per status after lazy expiry.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	var st Stats
	for _, c := range s.candidates {
		st.Total++
		switch c.Status {
		case StatusPending:
			st.Pending++
		case StatusConfirmed:
			st.Confirmed++
		case StatusRejected:
			st.Rejected++
		case StatusPublished:
			st.Published++
		case StatusExpired:
			st.Expired++
		}
	}
	return st
}

// Load replaces the store contents with previously persisted candidates.
// Terminal states are preserved: a published or rejected candidate never
// becomes actionable again. Records with unusable ids or statuses are
// dropped.
func (s *Store) Load(candidates []Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates = make(map[string]*Candidate, len(candidates))
	for _, c := range candidates {
		if c.ID == "" || !c.Status.Valid() {
			continue
		}
		copied := c
		s.candidates[c.ID] = &copied
	}
}

// Export returns every candidate, ordered by creation time, for
// persistence.
func (s *Store) Export() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportLocked()
}

func (s *Store) exportLocked() []Candidate {
	out := make([]Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// persistLocked pushes the exported list to the configured callback.
// Persistence failures are logged and swallowed; memory stays
// authoritative.
func (s *Store) persistLocked() {
	if s.cfg.Persist == nil {
		return
	}
	if err := s.cfg.Persist(s.exportLocked()); err != nil {
		s.log.Warn("persist candidates", zap.Error(err))
	}
}
