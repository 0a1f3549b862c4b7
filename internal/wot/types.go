// Package wot implements the scoring kernel of the web-of-trust engine:
// a pure, deterministic computation from a bag of attestations about a
// target key to a numeric trust score with full per-record provenance.
//
// The kernel performs no I/O. Fetching attestations, verifying their
// signatures and resolving attester scores are the caller's concern; the
// recursion needed for attester-trust dampening is injected as a
// ResolveFunc capability.
package wot

import (
	"fmt"
	"strings"
)

// Namespace is the label namespace that marks an event as belonging to
// this protocol. Byte-exact; appears in the ["L","ai.wot"] marker tag and
// in the third position of the strict type tag.
const Namespace = "ai.wot"

// Type is the verdict carried by an attestation. The set is closed;
// anything else is rejected at parse time.
type Type string

const (
	TypeServiceQuality     Type = "service-quality"
	TypeWorkCompleted      Type = "work-completed"
	TypeIdentityContinuity Type = "identity-continuity"
	TypeGeneralTrust       Type = "general-trust"
	TypeWarning            Type = "warning"
	TypeDispute            Type = "dispute"
)

// typeMultipliers maps each recognised type to its base score weight.
// Positive and negative sets are disjoint.
var typeMultipliers = map[Type]float64{
	TypeServiceQuality:     1.5,
	TypeWorkCompleted:      1.2,
	TypeIdentityContinuity: 1.0,
	TypeGeneralTrust:       0.8,
	TypeWarning:            -0.8,
	TypeDispute:            -1.5,
}

// AllTypes returns the recognised attestation types in descending
// multiplier order.
func AllTypes() []Type {
	return []Type{
		TypeServiceQuality,
		TypeWorkCompleted,
		TypeIdentityContinuity,
		TypeGeneralTrust,
		TypeWarning,
		TypeDispute,
	}
}

// Known reports whether t is one of the recognised attestation types.
func (t Type) Known() bool {
	_, ok := typeMultipliers[t]
	return ok
}

// Multiplier returns the base score weight for the type, or 0 for an
// unrecognised type.
func (t Type) Multiplier() float64 {
	return typeMultipliers[t]
}

// Negative reports whether the type carries a negative verdict. Negative
// attestations require non-empty content and are subject to the attester
// trust gate.
func (t Type) Negative() bool {
	return typeMultipliers[t] < 0
}

// ParseType converts a raw string into a recognised Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Known() {
		return "", fmt.Errorf("unknown attestation type %q", s)
	}
	return t, nil
}

// Attestation is the kernel's view of a single signed attestation event.
// The caller is responsible for signature verification; the kernel treats
// every record handed to it as authentic.
type Attestation struct {
	ID        string     // 64-hex event id
	Author    string     // 64-hex pubkey of the attester
	Target    string     // 64-hex pubkey the attestation is about
	CreatedAt int64      // unix seconds
	Content   string     // free text; required non-empty for negative types
	Tags      [][]string // raw event tags, used for type parsing
}

// TypeFromTags extracts the attestation type from a raw tag list.
//
// The strict form is ["l", TYPE, "ai.wot"]. When no strict tag is present
// but the ["L","ai.wot"] namespace marker is, the lenient two-element form
// ["l", TYPE] is accepted for any recognised TYPE.
func TypeFromTags(tags [][]string) (Type, error) {
	for _, tag := range tags {
		if len(tag) >= 3 && tag[0] == "l" && tag[2] == Namespace {
			return ParseType(tag[1])
		}
	}

	if hasNamespaceMarker(tags) {
		for _, tag := range tags {
			if len(tag) == 2 && tag[0] == "l" {
				if t := Type(tag[1]); t.Known() {
					return t, nil
				}
			}
		}
	}

	return "", fmt.Errorf("no %s type tag", Namespace)
}

// hasNamespaceMarker reports whether tags contain the ["L","ai.wot"]
// namespace marker.
func hasNamespaceMarker(tags [][]string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "L" && tag[1] == Namespace {
			return true
		}
	}
	return false
}

// ResolveFunc resolves the score of an attester so that their own
// reputation can dampen or gate what they say about others. A nil return
// means the attester is unknown: trust defaults to 1.0 and the display
// score to 0, which keeps negative attestations from unknown keys gated.
type ResolveFunc func(author string) *Result

// Options configures a single scoring invocation. The zero value of
// HalfLifeDays, NoveltyMultiplier and Now are replaced with defaults
// inside Score; NegativeGate 0 genuinely disables the gate.
type Options struct {
	// HalfLifeDays controls temporal decay: a contribution loses half its
	// weight every HalfLifeDays days. 0 means the 90-day default.
	HalfLifeDays float64

	// Depth is the current recursion depth. Callers start at 0; the
	// resolver re-enters with Depth+1.
	Depth int

	// MaxDepth bounds attester-trust recursion. At Depth >= MaxDepth the
	// attester is assumed trusted: trust 1.0, display 100.
	MaxDepth int

	// NegativeGate is the minimum display score an attester needs for
	// their negative attestations to count. 0 disables the gate.
	NegativeGate int

	// Deduplicate collapses repeat attestations per (author, target,
	// type) edge, keeping the most recent.
	Deduplicate bool

	// NoveltyMultiplier rewards the first attestation on a given
	// (author, target) edge. 0 means the 1.3 default.
	NoveltyMultiplier float64

	// Now is the unix time scoring happens at. 0 means wall clock.
	Now int64

	// Resolve supplies attester scores for dampening and gating. May be
	// nil, in which case every attester below the depth budget is treated
	// as unknown.
	Resolve ResolveFunc
}

// DefaultOptions returns the standard scoring configuration.
func DefaultOptions() Options {
	return Options{
		HalfLifeDays:      90,
		MaxDepth:          2,
		NegativeGate:      20,
		Deduplicate:       true,
		NoveltyMultiplier: 1.3,
	}
}

// Contribution records how a single attestation affected the score. Every
// record that reaches the kernel with a recognised type appears in the
// breakdown exactly once, gated or not; records whose type cannot be
// parsed appear with Skipped set and count toward nothing.
type Contribution struct {
	ID            string  `json:"id"`
	Author        string  `json:"author"`
	Target        string  `json:"target"`
	Type          Type    `json:"type,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	Multiplier    float64 `json:"multiplier,omitempty"`
	Decay         float64 `json:"decay,omitempty"`
	ZapSats       int64   `json:"zap_sats,omitempty"`
	ZapWeight     float64 `json:"zap_weight,omitempty"`
	AttesterTrust float64 `json:"attester_trust,omitempty"`
	Novel         bool    `json:"novel,omitempty"`
	Value         float64 `json:"value"`
	Gated         bool    `json:"gated,omitempty"`
	GateReason    string  `json:"gate_reason,omitempty"`
	Skipped       bool    `json:"skipped,omitempty"`
	SkipReason    string  `json:"skip_reason,omitempty"`
}

// Diversity measures how evenly the positive contributions are spread
// across distinct attesters. 0 means fully concentrated in one attester,
// values near 1 mean many attesters with no dominant voice.
type Diversity struct {
	Diversity        float64 `json:"diversity"`
	UniqueAttesters  int     `json:"unique_attesters"`
	MaxAttesterShare float64 `json:"max_attester_share"`
	TopAttester      string  `json:"top_attester,omitempty"`
}

// Result is the outcome of one scoring invocation.
type Result struct {
	// Raw is the floored, aggregated score, rounded to 1/100.
	Raw float64 `json:"raw"`

	// Display is Raw's un-rounded source scaled by 10 and clamped to
	// 0..100 for human presentation.
	Display int `json:"display"`

	// AttestationCount is the number of records that parsed to a
	// recognised type after deduplication, gated records included.
	AttestationCount int `json:"attestation_count"`

	PositiveCount int `json:"positive_count"`
	NegativeCount int `json:"negative_count"`
	GatedCount    int `json:"gated_count"`

	Breakdown []Contribution `json:"breakdown,omitempty"`
	Diversity Diversity      `json:"diversity"`
}

// isBlank reports whether s is empty or whitespace-only.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
