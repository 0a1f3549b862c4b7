// Package candidate implements the local queue of proposed attestations.
// Sources such as the DVM watcher suggest attestations; nothing reaches
// the relays until a human (or an explicit policy) confirms them.
package candidate

import (
	"errors"
	"strings"
	"time"

	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/wot"
)

// Status is a candidate's position in the confirmation state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusPublished, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusPublished || s == StatusExpired
}

// Candidate is a proposed attestation awaiting confirmation. Once
// published, the resulting event id is recorded and the candidate is
// immutable.
type Candidate struct {
	ID        string   `json:"id"`
	Status    Status   `json:"status"`
	Type      wot.Type `json:"type"`
	TargetKey string   `json:"target_key"`
	Comment   string   `json:"comment"`

	// EventRef ties the proposal to the event that motivated it, such as
	// a DVM result.
	EventRef string `json:"event_ref,omitempty"`

	// Source names where the proposal came from: "dvm", "manual", ...
	Source string `json:"source,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PublishedEventID string `json:"published_event_id,omitempty"`
	RejectReason     string `json:"reject_reason,omitempty"`
}

// Sentinel errors for illegal state-machine transitions. Illegal
// transitions never mutate state.
var (
	ErrNotFound     = errors.New("candidate not found")
	ErrNotPending   = errors.New("candidate is not pending")
	ErrNotConfirmed = errors.New("candidate is not confirmed")
)

// validate checks the required candidate fields at add time.
func validate(c Candidate) error {
	if !c.Type.Known() {
		return errors.New("candidate needs a recognised attestation type")
	}
	if !event.IsValidKey(c.TargetKey) {
		return errors.New("candidate needs a canonical 64-hex target key")
	}
	if strings.TrimSpace(c.Comment) == "" {
		return errors.New("candidate needs a non-empty comment")
	}
	return nil
}
