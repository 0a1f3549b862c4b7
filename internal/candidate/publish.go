package candidate

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/jeletor/ai-wot/internal/event"
)

// Publisher sends a signed event to the relay set. Implementations
// return an error only when no relay accepted the event.
type Publisher interface {
	Publish(ctx context.Context, ev *nostr.Event) error
}

// ConfirmAndPublish confirms a pending candidate, builds and signs the
// attestation, publishes it, and records the resulting event id. A
// publish failure leaves the candidate confirmed so the publish can be
// retried later.
func (s *Store) ConfirmAndPublish(ctx context.Context, id string, edits Edits, signer event.Signer, pub Publisher) (Candidate, error) {
	c, err := s.Confirm(id, edits)
	if err != nil {
		return Candidate{}, err
	}
	published, err := s.publishConfirmed(ctx, c, signer, pub)
	if err != nil {
		return c, err
	}
	return published, nil
}

// PublishConfirmed publishes a single already-confirmed candidate and
// records the event id. Pending and terminal candidates are rejected.
func (s *Store) PublishConfirmed(ctx context.Context, id string, signer event.Signer, pub Publisher) (Candidate, error) {
	c, ok := s.Get(id)
	if !ok {
		return Candidate{}, ErrNotFound
	}
	if c.Status != StatusConfirmed {
		return Candidate{}, ErrNotConfirmed
	}
	return s.publishConfirmed(ctx, c, signer, pub)
}

// publishConfirmed builds, signs and publishes the attestation for a
// confirmed candidate, then records the event id.
func (s *Store) publishConfirmed(ctx context.Context, c Candidate, signer event.Signer, pub Publisher) (Candidate, error) {
	ev, err := event.NewAttestation(event.Body{
		Type:     c.Type,
		Target:   c.TargetKey,
		Comment:  c.Comment,
		EventRef: c.EventRef,
	}, nostr.Timestamp(s.cfg.Clock().Unix()))
	if err != nil {
		return c, fmt.Errorf("build attestation: %w", err)
	}
	if err := signer.Sign(ev); err != nil {
		return c, fmt.Errorf("sign attestation: %w", err)
	}
	if err := pub.Publish(ctx, ev); err != nil {
		return c, fmt.Errorf("publish attestation: %w", err)
	}
	return s.MarkPublished(c.ID, ev.ID)
}

// Outcome is the per-candidate result of a bulk publish sweep.
type Outcome struct {
	CandidateID string
	EventID     string
	Err         error
}

// PublishAllConfirmed publishes every confirmed candidate. Failures are
// collected per candidate and never abort the sweep.
func (s *Store) PublishAllConfirmed(ctx context.Context, signer event.Signer, pub Publisher) []Outcome {
	confirmed := s.List(Filter{Status: StatusConfirmed, Limit: s.cfg.MaxCandidates})
	outcomes := make([]Outcome, 0, len(confirmed))
	for _, c := range confirmed {
		published, err := s.publishConfirmed(ctx, c, signer, pub)
		o := Outcome{CandidateID: c.ID, Err: err}
		if err == nil {
			o.EventID = published.PublishedEventID
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}
