package watcher

import (
	"context"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/relay/relaytest"
	"github.com/jeletor/ai-wot/internal/wot"
)

func startRelay(t *testing.T) (*relaytest.Relay, string) {
	t.Helper()
	rt := relaytest.New()
	server := httptest.NewServer(rt)
	t.Cleanup(server.Close)
	return rt, "ws" + strings.TrimPrefix(server.URL, "http")
}

func newKey(t *testing.T) (sk, pk string) {
	t.Helper()
	sk = nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("failed to derive public key: %v", err)
	}
	return sk, pk
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// resultEvent builds a signed service result of the given kind addressed
// to requester, with a request e-tag and, when msats >= 0, an amount tag.
func resultEvent(t *testing.T, sk, requester string, kind int, msats int64) *nostr.Event {
	t.Helper()
	tags := nostr.Tags{
		{"e", "a6aff8c5fe8a04dd11ddf3e950dfcbc25f152e4e7f97bcbcdc3b00f5f3dddf5a"},
		{"p", requester},
	}
	if msats >= 0 {
		tags = append(tags, nostr.Tag{"amount", strconv.FormatInt(msats, 10)})
	}
	ev := &nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   "result payload",
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("failed to sign result: %v", err)
	}
	return ev
}

func runWatcher(t *testing.T, w *Watcher) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("watcher did not shut down after cancel")
		}
	}
}

func TestWatcher_QueuesCandidateFromResult(t *testing.T) {
	rt, url := startRelay(t)
	_, ourPK := newKey(t)
	providerSK, providerPK := newKey(t)

	store := candidate.NewStore(candidate.Config{})
	w, err := New(Options{Relays: []string{url}, PubKey: ourPK, Store: store})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cancel := runWatcher(t, w)
	defer cancel()

	waitFor(t, 3*time.Second, func() bool { return rt.Subscriptions() > 0 }, "subscription")

	ev := resultEvent(t, providerSK, ourPK, 6050, 21000)
	rt.Seed(ev)

	waitFor(t, 3*time.Second, func() bool {
		return len(store.List(candidate.Filter{})) == 1
	}, "candidate")

	got := store.List(candidate.Filter{})[0]
	if got.Status != candidate.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, candidate.StatusPending)
	}
	if got.Source != "dvm" {
		t.Errorf("Source = %q, want %q", got.Source, "dvm")
	}
	if got.Type != wot.TypeServiceQuality {
		t.Errorf("Type = %q, want %q", got.Type, wot.TypeServiceQuality)
	}
	if got.TargetKey != providerPK {
		t.Errorf("TargetKey = %q, want provider %q", got.TargetKey, providerPK)
	}
	if got.EventRef != ev.ID {
		t.Errorf("EventRef = %q, want result id %q", got.EventRef, ev.ID)
	}
	want := "DVM receipt | kind:5050 (text-generation) | 21 sats"
	if got.Comment != want {
		t.Errorf("Comment = %q, want %q", got.Comment, want)
	}
	meta := map[string]string{
		"result_kind":      "6050",
		"request_kind":     "5050",
		"request_event_id": ev.Tags[0][1],
		"amount_sats":      "21",
	}
	for k, v := range meta {
		if got.Metadata[k] != v {
			t.Errorf("Metadata[%q] = %q, want %q", k, got.Metadata[k], v)
		}
	}
}

func TestWatcher_DedupesAcrossRelays(t *testing.T) {
	rt1, url1 := startRelay(t)
	rt2, url2 := startRelay(t)
	_, ourPK := newKey(t)
	providerSK, _ := newKey(t)

	store := candidate.NewStore(candidate.Config{})
	w, err := New(Options{Relays: []string{url1, url2}, PubKey: ourPK, Store: store})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cancel := runWatcher(t, w)
	defer cancel()

	waitFor(t, 3*time.Second, func() bool {
		return rt1.Subscriptions() > 0 && rt2.Subscriptions() > 0
	}, "both subscriptions")

	ev := resultEvent(t, providerSK, ourPK, 6050, 21000)
	rt1.Seed(ev)
	rt2.Seed(ev)

	waitFor(t, 3*time.Second, func() bool {
		return len(store.List(candidate.Filter{})) >= 1
	}, "candidate")

	// Give the second delivery time to arrive before asserting it was
	// dropped.
	time.Sleep(100 * time.Millisecond)
	if got := len(store.List(candidate.Filter{})); got != 1 {
		t.Errorf("candidates = %d, want 1", got)
	}
}

func TestWatcher_SkipsOwnAndNonResultEvents(t *testing.T) {
	rt, url := startRelay(t)
	ourSK, ourPK := newKey(t)
	providerSK, providerPK := newKey(t)

	store := candidate.NewStore(candidate.Config{})
	w, err := New(Options{Relays: []string{url}, PubKey: ourPK, Store: store})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cancel := runWatcher(t, w)
	defer cancel()

	waitFor(t, 3*time.Second, func() bool { return rt.Subscriptions() > 0 }, "subscription")

	// Our own result and a plain note both p-tag us but must not queue.
	own := resultEvent(t, ourSK, ourPK, 6050, -1)
	note := &nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", ourPK}},
		Content:   "thanks for the job",
	}
	if err := note.Sign(providerSK); err != nil {
		t.Fatalf("failed to sign note: %v", err)
	}
	theirs := resultEvent(t, providerSK, ourPK, 6201, -1)
	rt.Seed(own, note, theirs)

	waitFor(t, 3*time.Second, func() bool {
		return len(store.List(candidate.Filter{})) == 1
	}, "candidate")

	time.Sleep(100 * time.Millisecond)
	list := store.List(candidate.Filter{})
	if len(list) != 1 {
		t.Fatalf("candidates = %d, want 1", len(list))
	}
	if list[0].TargetKey != providerPK {
		t.Errorf("TargetKey = %q, want provider %q", list[0].TargetKey, providerPK)
	}
	if list[0].Metadata["result_kind"] != "6201" {
		t.Errorf("result_kind = %q, want %q", list[0].Metadata["result_kind"], "6201")
	}
}

func TestWatcher_New_Validation(t *testing.T) {
	_, pk := newKey(t)
	store := candidate.NewStore(candidate.Config{})

	cases := []struct {
		name string
		opts Options
	}{
		{"no relays", Options{PubKey: pk, Store: store}},
		{"bad key", Options{Relays: []string{"ws://localhost"}, PubKey: "nope", Store: store}},
		{"nil store", Options{Relays: []string{"ws://localhost"}, PubKey: pk}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts); err == nil {
				t.Error("New accepted invalid options")
			}
		})
	}
}
