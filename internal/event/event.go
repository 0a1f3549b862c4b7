// Package event builds and parses the wire events of the ai.wot protocol:
// kind-1985 label attestations, kind-5 revocations and kind-9735 zap
// receipts. All parsing is shape-only; signature verification is the
// relay layer's responsibility.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/jeletor/ai-wot/internal/wot"
)

// Event kinds used by the protocol.
const (
	KindRevocation  = 5    // NIP-09 deletion
	KindAttestation = 1985 // NIP-32 label
	KindZapReceipt  = 9735 // NIP-57 zap receipt
)

// DefaultExpireDays is the advisory expiration attached to published
// attestations when the caller does not choose one.
const DefaultExpireDays = 90

// ErrInvalidKey marks a public key that is not 64 lowercase hex chars.
var ErrInvalidKey = errors.New("invalid public key")

// IsValidKey reports whether s is a canonical 64-char lowercase hex key.
func IsValidKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsValidEventID reports whether s looks like a 64-hex event id. Event
// ids and public keys share the same canonical form.
func IsValidEventID(s string) bool {
	return IsValidKey(s)
}

// Signer produces signed protocol events for a local identity.
type Signer interface {
	// PublicKey returns the canonical 64-hex public key.
	PublicKey() string
	// Sign fills in PubKey, ID and Sig on the event.
	Sign(ev *nostr.Event) error
}

// Body is the pre-publication content of an attestation.
type Body struct {
	Type    wot.Type
	Target  string
	Comment string

	// EventRef optionally ties the attestation to a prior event, such as
	// a service result.
	EventRef string

	// ExpireDays sets the advisory expiration. 0 means
	// DefaultExpireDays; negative disables the tag.
	ExpireDays int
}

// Validate checks the body against the publish-side rules: recognised
// type, canonical target key, and non-empty content for negative types.
func (b Body) Validate() error {
	if !b.Type.Known() {
		return fmt.Errorf("unknown attestation type %q", b.Type)
	}
	if !IsValidKey(b.Target) {
		return fmt.Errorf("target %q: %w", b.Target, ErrInvalidKey)
	}
	if b.Type.Negative() && strings.TrimSpace(b.Comment) == "" {
		return fmt.Errorf("%s attestation requires a non-empty comment", b.Type)
	}
	if b.EventRef != "" && !IsValidEventID(b.EventRef) {
		return fmt.Errorf("event ref %q is not a valid event id", b.EventRef)
	}
	return nil
}

// NewAttestation constructs an unsigned kind-1985 event carrying the
// canonical tag set for the body. The caller signs and publishes it.
func NewAttestation(b Body, createdAt nostr.Timestamp) (*nostr.Event, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	tags := nostr.Tags{
		{"L", wot.Namespace},
		{"l", string(b.Type), wot.Namespace},
		{"p", b.Target},
	}
	if b.EventRef != "" {
		tags = append(tags, nostr.Tag{"e", b.EventRef})
	}

	expireDays := b.ExpireDays
	if expireDays == 0 {
		expireDays = DefaultExpireDays
	}
	if expireDays > 0 {
		expiry := int64(createdAt) + int64(expireDays)*86400
		tags = append(tags, nostr.Tag{"expiration", strconv.FormatInt(expiry, 10)})
	}

	return &nostr.Event{
		Kind:      KindAttestation,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   b.Comment,
	}, nil
}

// NewRevocation constructs an unsigned kind-5 deletion naming one or
// more prior attestations. The reason is mandatory: a revocation without
// context is indistinguishable from key compromise.
func NewRevocation(attestationIDs []string, reason string, createdAt nostr.Timestamp) (*nostr.Event, error) {
	if len(attestationIDs) == 0 {
		return nil, errors.New("revocation needs at least one attestation id")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.New("revocation reason must not be empty")
	}

	tags := make(nostr.Tags, 0, len(attestationIDs)+1)
	for _, id := range attestationIDs {
		if !IsValidEventID(id) {
			return nil, fmt.Errorf("attestation id %q is not a valid event id", id)
		}
		tags = append(tags, nostr.Tag{"e", id})
	}
	tags = append(tags, nostr.Tag{"k", strconv.Itoa(KindAttestation)})

	return &nostr.Event{
		Kind:      KindRevocation,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   reason,
	}, nil
}

// ParseAttestation converts a raw kind-1985 event into the kernel's
// typed view. Type-tag validity is judged later by the kernel so that
// malformed records still show up in score breakdowns.
func ParseAttestation(ev *nostr.Event) (wot.Attestation, error) {
	if ev == nil {
		return wot.Attestation{}, errors.New("nil event")
	}
	if ev.Kind != KindAttestation {
		return wot.Attestation{}, fmt.Errorf("kind %d is not an attestation", ev.Kind)
	}

	target := firstTagValue(ev, "p")
	if target == "" {
		return wot.Attestation{}, errors.New("attestation has no target p tag")
	}

	return wot.Attestation{
		ID:        ev.ID,
		Author:    ev.PubKey,
		Target:    target,
		CreatedAt: int64(ev.CreatedAt),
		Content:   ev.Content,
		Tags:      rawTags(ev.Tags),
	}, nil
}

// ZapReceipt is the scorer's view of a kind-9735 payment receipt.
type ZapReceipt struct {
	EventIDs []string // attestation ids the payment references
	Sats     int64    // floor(millisats / 1000)
}

// zapRequest is the subset of the embedded zap request document the
// scorer needs: just its tag list, for the amount.
type zapRequest struct {
	Tags [][]string `json:"tags"`
}

// ParseZapReceipt extracts the referenced event ids and the satoshi
// amount from a zap receipt. The amount lives inside the stringified
// zap request carried in the description tag, as millisats.
func ParseZapReceipt(ev *nostr.Event) (*ZapReceipt, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	if ev.Kind != KindZapReceipt {
		return nil, fmt.Errorf("kind %d is not a zap receipt", ev.Kind)
	}

	ids := allTagValues(ev, "e")
	if len(ids) == 0 {
		return nil, errors.New("zap receipt references no events")
	}

	desc := firstTagValue(ev, "description")
	if desc == "" {
		return nil, errors.New("zap receipt has no description tag")
	}

	var req zapRequest
	if err := json.Unmarshal([]byte(desc), &req); err != nil {
		return nil, fmt.Errorf("parse zap request: %w", err)
	}

	var millisats int64 = -1
	for _, tag := range req.Tags {
		if len(tag) >= 2 && tag[0] == "amount" {
			n, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse zap amount %q: %w", tag[1], err)
			}
			millisats = n
			break
		}
	}
	if millisats < 0 {
		return nil, errors.New("zap request has no valid amount tag")
	}

	return &ZapReceipt{EventIDs: ids, Sats: millisats / 1000}, nil
}

// RevokedIDs extracts the attestation ids named by a kind-5 deletion
// whose k tag references the attestation kind. Returns nil for
// deletions aimed at other kinds.
func RevokedIDs(ev *nostr.Event) []string {
	if ev == nil || ev.Kind != KindRevocation {
		return nil
	}
	if firstTagValue(ev, "k") != strconv.Itoa(KindAttestation) {
		return nil
	}
	return allTagValues(ev, "e")
}

// firstTagValue returns the second element of the first tag with the
// given name, or "".
func firstTagValue(ev *nostr.Event, name string) string {
	if tag := ev.Tags.GetFirst([]string{name}); tag != nil {
		return tag.Value()
	}
	return ""
}

// allTagValues returns the second element of every tag with the given
// name.
func allTagValues(ev *nostr.Event, name string) []string {
	var out []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// rawTags converts nostr tags to the kernel's plain representation.
func rawTags(tags nostr.Tags) [][]string {
	out := make([][]string, len(tags))
	for i, tag := range tags {
		out[i] = []string(tag)
	}
	return out
}
