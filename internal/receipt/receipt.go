// Package receipt turns DVM service-result events into attestation
// bodies, tying a trust claim to a verifiable prior transaction.
//
// Data-vending-machine requests use kinds 5000-5999 and providers answer
// with kind = request + 1000. A receipt attests to the provider (the
// result author) and references the result event so third parties can
// check that the attested work actually happened.
package receipt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/wot"
)

// Service result kinds per the DVM convention.
const (
	MinResultKind = 6000
	MaxResultKind = 6999
)

// requestKindNames labels the well-known DVM request kinds. Unlisted
// kinds render without a name.
var requestKindNames = map[int]string{
	5000: "text-extraction",
	5001: "summarization",
	5002: "translation",
	5050: "text-generation",
	5100: "image-generation",
	5200: "video-conversion",
	5250: "text-to-speech",
	5300: "content-discovery",
	5301: "people-discovery",
	5302: "content-search",
	5400: "event-count",
}

// ServiceResult is the parsed view of a kind 6000-6999 event.
type ServiceResult struct {
	ResultEventID  string `json:"result_event_id"`
	ResultKind     int    `json:"result_kind"`
	RequestKind    int    `json:"request_kind"`
	RequestEventID string `json:"request_event_id,omitempty"`
	ProviderKey    string `json:"provider_key"`
	RequesterKey   string `json:"requester_key,omitempty"`
	AmountSats     int64  `json:"amount_sats,omitempty"`
	HasAmount      bool   `json:"-"`
}

// ParseServiceResult extracts the fields a receipt needs from a service
// result. Events outside the result kind range, or missing the provider
// key or event id, are rejected.
func ParseServiceResult(ev *nostr.Event) (*ServiceResult, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	if ev.Kind < MinResultKind || ev.Kind > MaxResultKind {
		return nil, fmt.Errorf("kind %d is not a service result", ev.Kind)
	}
	if ev.PubKey == "" {
		return nil, errors.New("service result has no provider key")
	}
	if ev.ID == "" {
		return nil, errors.New("service result has no event id")
	}

	sr := &ServiceResult{
		ResultEventID: ev.ID,
		ResultKind:    ev.Kind,
		RequestKind:   ev.Kind - 1000,
		ProviderKey:   ev.PubKey,
	}

	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "e":
			if sr.RequestEventID == "" {
				sr.RequestEventID = tag[1]
			}
		case "p":
			if sr.RequesterKey == "" {
				sr.RequesterKey = tag[1]
			}
		case "amount":
			// Millisats; a malformed or negative amount is treated as
			// absent rather than failing the whole parse.
			if sr.HasAmount {
				continue
			}
			msats, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil || msats < 0 {
				continue
			}
			sr.AmountSats = msats / 1000
			sr.HasAmount = true
		}
	}

	return sr, nil
}

// BuildOptions adjusts the attestation body built from a service result.
type BuildOptions struct {
	// Type overrides the default service-quality verdict.
	Type wot.Type

	// Rating is an optional 1-5 star rating; 0 omits it. Out-of-range
	// values are clamped.
	Rating int

	// Text is free-form commentary appended to the structured comment.
	Text string
}

// BuildBody produces the attestation body for a service result: target
// is the provider, the event ref is the result event, and the comment is
// a pipe-separated structured summary.
func BuildBody(sr *ServiceResult, opts BuildOptions) (event.Body, error) {
	if sr == nil {
		return event.Body{}, errors.New("nil service result")
	}
	if sr.ProviderKey == "" {
		return event.Body{}, errors.New("service result has no provider key")
	}
	if sr.ResultEventID == "" {
		return event.Body{}, errors.New("service result has no event id")
	}

	typ := opts.Type
	if typ == "" {
		typ = wot.TypeServiceQuality
	}
	if !typ.Known() {
		return event.Body{}, fmt.Errorf("unknown attestation type %q", typ)
	}

	segments := []string{"DVM receipt", kindSegment(sr.RequestKind)}
	if sr.HasAmount {
		segments = append(segments, fmt.Sprintf("%d sats", sr.AmountSats))
	}
	if opts.Rating != 0 {
		segments = append(segments, fmt.Sprintf("rating:%d/5", clampRating(opts.Rating)))
	}
	if text := strings.TrimSpace(opts.Text); text != "" {
		segments = append(segments, text)
	}

	return event.Body{
		Type:     typ,
		Target:   sr.ProviderKey,
		Comment:  strings.Join(segments, " | "),
		EventRef: sr.ResultEventID,
	}, nil
}

// kindSegment renders "kind:5050 (text-generation)", dropping the name
// for kinds outside the well-known table.
func kindSegment(requestKind int) string {
	if name, ok := requestKindNames[requestKind]; ok {
		return fmt.Sprintf("kind:%d (%s)", requestKind, name)
	}
	return fmt.Sprintf("kind:%d", requestKind)
}

// clampRating forces a rating into the 1-5 range.
func clampRating(r int) int {
	if r < 1 {
		return 1
	}
	if r > 5 {
		return 5
	}
	return r
}
