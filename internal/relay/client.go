// Package relay aggregates attestation data from a set of Nostr relays:
// concurrent fan-out queries and publishes, revocation joins, zap-total
// joins and memoised recursive scoring.
//
// The aggregator is best-effort by design. Every relay operation is bounded
// by a per-relay deadline; a relay that fails or times out never fails the
// aggregate, and partial data received before the deadline is kept. A
// target with zero attestations is indistinguishable from a target the
// relays do not know.
package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/wot"
)

// PerRelayTimeout bounds every single-relay operation. The aggregate is
// given mergeGrace on top to finish joining results.
const (
	PerRelayTimeout = 12 * time.Second
	mergeGrace      = 2 * time.Second
)

// Options configures a Client.
type Options struct {
	// Relays is the set of relay URLs to fan out to.
	Relays []string
	// Timeout is the per-relay deadline. Zero means PerRelayTimeout.
	Timeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Health receives per-relay outcomes. A tracker is created if nil.
	Health *HealthTracker
}

// Client fans out queries and publishes to a fixed relay set.
type Client struct {
	relays  []string
	timeout time.Duration
	log     *zap.Logger
	health  *HealthTracker
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		relays:  opts.Relays,
		timeout: opts.Timeout,
		log:     opts.Logger,
		health:  opts.Health,
	}
	if c.timeout <= 0 {
		c.timeout = PerRelayTimeout
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.health == nil {
		c.health = NewHealthTracker()
	}
	return c
}

// Relays returns the configured relay URLs.
func (c *Client) Relays() []string {
	return c.relays
}

// Health returns the tracker recording per-relay outcomes.
func (c *Client) Health() *HealthTracker {
	return c.health
}

// QueryOptions tunes a single attestation query.
type QueryOptions struct {
	// IncludeRevoked skips the revocation join.
	IncludeRevoked bool

	// Since restricts the query to events created at or after this unix
	// time. 0 means no lower bound.
	Since int64

	// Limit caps how many events each relay returns. 0 means no cap.
	Limit int
}

// QueryAttestations returns the verified attestation bag for target:
// kind-1985 events in the ai.wot namespace naming target, merged across
// relays by event id, minus self-attestations and (by default) minus
// records revoked by their own authors. The result is ordered by
// created_at then id so downstream scoring is deterministic.
func (c *Client) QueryAttestations(ctx context.Context, target string, opts QueryOptions) []wot.Attestation {
	queriesTotal.Inc()

	filter := nostr.Filter{
		Kinds: []int{event.KindAttestation},
		Tags:  nostr.TagMap{"L": {wot.Namespace}, "p": {target}},
		Limit: opts.Limit,
	}
	if opts.Since > 0 {
		since := nostr.Timestamp(opts.Since)
		filter.Since = &since
	}
	events := c.fetchAll(ctx, filter)

	var atts []wot.Attestation
	for _, ev := range events {
		att, err := event.ParseAttestation(ev)
		if err != nil {
			c.log.Debug("skip malformed attestation", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		if att.Author == att.Target {
			continue
		}
		atts = append(atts, att)
	}

	if !opts.IncludeRevoked && len(atts) > 0 {
		authors := make([]string, 0, len(atts))
		seen := make(map[string]bool)
		for _, a := range atts {
			if !seen[a.Author] {
				seen[a.Author] = true
				authors = append(authors, a.Author)
			}
		}
		revoked := c.QueryRevocations(ctx, authors)
		if len(revoked) > 0 {
			kept := atts[:0]
			for _, a := range atts {
				if !revoked[a.ID] {
					kept = append(kept, a)
				}
			}
			atts = kept
		}
	}

	sort.Slice(atts, func(i, j int) bool {
		if atts[i].CreatedAt != atts[j].CreatedAt {
			return atts[i].CreatedAt < atts[j].CreatedAt
		}
		return atts[i].ID < atts[j].ID
	})
	return atts
}

// QueryRevocations returns the set of attestation ids revoked by the given
// authors. Restricting the query to the attestation bag's own authors is
// what enforces that only the original author can revoke.
func (c *Client) QueryRevocations(ctx context.Context, authors []string) map[string]bool {
	if len(authors) == 0 {
		return nil
	}
	filter := nostr.Filter{
		Kinds:   []int{event.KindRevocation},
		Authors: authors,
		Tags:    nostr.TagMap{"k": {"1985"}},
	}
	events := c.fetchAll(ctx, filter)

	revoked := make(map[string]bool)
	for _, ev := range events {
		for _, id := range event.RevokedIDs(ev) {
			revoked[id] = true
		}
	}
	return revoked
}

// QueryZapTotals returns satoshis received per attestation id, summed over
// every zap receipt referencing one of ids.
func (c *Client) QueryZapTotals(ctx context.Context, ids []string) map[string]int64 {
	if len(ids) == 0 {
		return nil
	}
	filter := nostr.Filter{
		Kinds: []int{event.KindZapReceipt},
		Tags:  nostr.TagMap{"e": ids},
	}
	events := c.fetchAll(ctx, filter)

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	totals := make(map[string]int64)
	for _, ev := range events {
		receipt, err := event.ParseZapReceipt(ev)
		if err != nil {
			c.log.Debug("skip malformed zap receipt", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		for _, id := range receipt.EventIDs {
			if wanted[id] {
				totals[id] += receipt.Sats
			}
		}
	}
	return totals
}

// PublishResult is the outcome of publishing to a single relay.
type PublishResult struct {
	Relay    string `json:"relay"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Publish fans the signed event out to every relay concurrently and
// reports per-relay outcomes in relay-set order. It does not retry; the
// caller decides whether a partial accept is success.
func (c *Client) Publish(ctx context.Context, ev *nostr.Event) []PublishResult {
	publishTotal.Inc()

	results := make([]PublishResult, len(c.relays))
	var wg sync.WaitGroup
	for i, url := range c.relays {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = c.publishOne(ctx, url, ev)
		}(i, url)
	}
	wg.Wait()

	for _, r := range results {
		if r.Accepted {
			c.health.RecordSuccess(r.Relay, 0)
		} else {
			c.health.RecordFailure(r.Relay, fmt.Errorf("%s", r.Reason))
			relayFailures.WithLabelValues(r.Relay).Inc()
		}
	}
	return results
}

func (c *Client) publishOne(ctx context.Context, url string, ev *nostr.Event) PublishResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return PublishResult{Relay: url, Reason: fmt.Sprintf("connect: %v", err)}
	}
	defer r.Close()

	if err := r.Publish(ctx, *ev); err != nil {
		return PublishResult{Relay: url, Reason: err.Error()}
	}
	return PublishResult{Relay: url, Accepted: true}
}

// Broadcaster adapts the fan-out Publish to the single-error contract the
// candidate store expects: one relay accepting counts as success.
type Broadcaster struct {
	Client *Client
}

// Publish sends ev to the relay set and returns an error only when no
// relay accepted it.
func (b Broadcaster) Publish(ctx context.Context, ev *nostr.Event) error {
	var reason string
	for _, r := range b.Client.Publish(ctx, ev) {
		if r.Accepted {
			return nil
		}
		if reason == "" && r.Reason != "" {
			reason = r.Reason
		}
	}
	if reason != "" {
		return fmt.Errorf("no relay accepted event: %s", reason)
	}
	return fmt.Errorf("no relay accepted event")
}

// fetchAll runs one subscription against every relay and merges the
// results by event id. Events with invalid signatures are dropped.
func (c *Client) fetchAll(ctx context.Context, filter nostr.Filter) []*nostr.Event {
	ctx, cancel := context.WithTimeout(ctx, c.timeout+mergeGrace)
	defer cancel()

	var (
		mu     sync.Mutex
		merged = make(map[string]*nostr.Event)
		order  []string
	)
	var wg sync.WaitGroup
	for _, url := range c.relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			events, err := c.fetchOne(ctx, url, filter)
			if err != nil {
				relayFailures.WithLabelValues(url).Inc()
				c.health.RecordFailure(url, err)
				c.log.Debug("relay query failed", zap.String("relay", url), zap.Error(err))
				return
			}
			relayEvents.WithLabelValues(url).Add(float64(len(events)))
			c.health.RecordSuccess(url, len(events))

			mu.Lock()
			for _, ev := range events {
				if _, ok := merged[ev.ID]; !ok {
					merged[ev.ID] = ev
					order = append(order, ev.ID)
				}
			}
			mu.Unlock()
		}(url)
	}
	wg.Wait()

	out := make([]*nostr.Event, 0, len(order))
	for _, id := range order {
		ev := merged[id]
		if ok, err := ev.CheckSignature(); err != nil || !ok {
			c.log.Debug("drop event with bad signature", zap.String("id", ev.ID))
			continue
		}
		out = append(out, ev)
	}
	return out
}

// fetchOne accumulates events from a single relay until end-of-stored or
// the deadline. Partial data received before the deadline is returned, not
// discarded.
func (c *Client) fetchOne(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	defer r.Close()

	sub, err := r.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", url, err)
	}
	defer sub.Unsub()

	var out []*nostr.Event
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return out, nil
			}
			out = append(out, ev)
		case <-sub.EndOfStoredEvents:
			return out, nil
		case <-ctx.Done():
			return out, nil
		}
	}
}
