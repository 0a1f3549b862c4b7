// Package watcher turns live DVM service results into review candidates.
//
// The watcher holds an open subscription per relay for results that
// p-tag our key, parses each into a receipt body and queues a
// "dvm"-source candidate. Nothing reaches the relays without an
// explicit confirmation.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/receipt"
)

// Reconnect backoff bounds.
const (
	initialBackoff = time.Second
	maxBackoff     = 2 * time.Minute
)

// Options configures a Watcher.
type Options struct {
	// Relays is the set of relay URLs to hold subscriptions against.
	Relays []string

	// PubKey is our key; only results p-tagging it are considered.
	PubKey string

	// Store receives the queued candidates.
	Store *candidate.Store

	Logger *zap.Logger
}

// Watcher subscribes to service results addressed to our key.
type Watcher struct {
	relays []string
	pubkey string
	store  *candidate.Store
	log    *zap.Logger

	// seen holds result ids already queued, so replays after a
	// reconnect do not queue twice. Bounded by results received in one
	// daemon lifetime.
	mu   sync.Mutex
	seen map[string]bool
}

// New validates opts and creates a Watcher.
func New(opts Options) (*Watcher, error) {
	if len(opts.Relays) == 0 {
		return nil, errors.New("watcher needs at least one relay")
	}
	if !event.IsValidKey(opts.PubKey) {
		return nil, errors.New("watcher needs a canonical 64-hex public key")
	}
	if opts.Store == nil {
		return nil, errors.New("watcher needs a candidate store")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		relays: opts.Relays,
		pubkey: opts.PubKey,
		store:  opts.Store,
		log:    log,
		seen:   make(map[string]bool),
	}, nil
}

// Run blocks, holding one subscription per relay until ctx is cancelled.
// Dropped subscriptions reconnect with capped exponential backoff.
func (w *Watcher) Run(ctx context.Context) {
	// Pinned once so reconnects replay anything published while we were
	// away; the seen set keeps replays from queueing twice.
	since := nostr.Timestamp(time.Now().Unix())

	var wg sync.WaitGroup
	for _, url := range w.relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			w.watchRelay(ctx, url, since)
		}(url)
	}
	wg.Wait()
}

// watchRelay keeps one relay subscribed until ctx ends.
func (w *Watcher) watchRelay(ctx context.Context, url string, since nostr.Timestamp) {
	backoff := initialBackoff
	for {
		started := time.Now()
		err := w.subscribe(ctx, url, since)
		if ctx.Err() != nil {
			return
		}
		// A subscription that held for a while earns a fresh backoff.
		if time.Since(started) > time.Minute {
			backoff = initialBackoff
		}
		w.log.Warn("subscription dropped",
			zap.String("relay", url),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// subscribe holds a single live subscription until the connection drops
// or ctx ends.
func (w *Watcher) subscribe(ctx context.Context, url string, since nostr.Timestamp) error {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer r.Close()

	// The 6000-6999 result range is not expressible as a filter, so
	// subscribe to everything p-tagging us and let the parser reject
	// non-results.
	filter := nostr.Filter{
		Tags:  nostr.TagMap{"p": {w.pubkey}},
		Since: &since,
	}
	sub, err := r.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", url, err)
	}
	defer sub.Unsub()

	w.log.Info("watching for service results", zap.String("relay", url))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return errors.New("subscription closed")
			}
			w.handleResult(ev)
		}
	}
}

// handleResult queues a candidate for a service result not seen before.
func (w *Watcher) handleResult(ev *nostr.Event) {
	if ev == nil {
		return
	}
	// Our own results would become self-attestations, which scoring
	// drops; don't queue them in the first place.
	if ev.PubKey == w.pubkey {
		return
	}
	sr, err := receipt.ParseServiceResult(ev)
	if err != nil {
		w.log.Debug("skip non-result event", zap.String("id", ev.ID), zap.Error(err))
		return
	}

	w.mu.Lock()
	if w.seen[sr.ResultEventID] {
		w.mu.Unlock()
		return
	}
	w.seen[sr.ResultEventID] = true
	w.mu.Unlock()

	body, err := receipt.BuildBody(sr, receipt.BuildOptions{})
	if err != nil {
		w.log.Warn("skip unusable service result", zap.String("id", sr.ResultEventID), zap.Error(err))
		return
	}

	meta := map[string]string{
		"result_kind":  strconv.Itoa(sr.ResultKind),
		"request_kind": strconv.Itoa(sr.RequestKind),
	}
	if sr.RequestEventID != "" {
		meta["request_event_id"] = sr.RequestEventID
	}
	if sr.HasAmount {
		meta["amount_sats"] = strconv.FormatInt(sr.AmountSats, 10)
	}

	c, err := w.store.Add(candidate.Candidate{
		Type:      body.Type,
		TargetKey: body.Target,
		Comment:   body.Comment,
		EventRef:  body.EventRef,
		Source:    "dvm",
		Metadata:  meta,
	})
	if err != nil {
		w.log.Warn("queue candidate", zap.String("result", sr.ResultEventID), zap.Error(err))
		return
	}
	watcherCandidates.Inc()
	w.log.Info("queued candidate from service result",
		zap.String("candidate", c.ID),
		zap.String("provider", sr.ProviderKey),
		zap.Int("request_kind", sr.RequestKind))
}
