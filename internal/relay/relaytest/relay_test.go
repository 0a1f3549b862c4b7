package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

func setupRelayTest(t *testing.T) (*Relay, *websocket.Conn, *httptest.Server) {
	t.Helper()
	relay := New()
	server := httptest.NewServer(relay)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected status 101, got %d", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return relay, conn, server
}

func signedEvent(t *testing.T, kind int, content string, tags nostr.Tags) *nostr.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	ev := &nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   content,
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("failed to sign event: %v", err)
	}
	return ev
}

func sendFrame(t *testing.T, conn *websocket.Conn, items ...interface{}) {
	t.Helper()
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) []json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatalf("failed to parse frame %q: %v", data, err)
	}
	return arr
}

func frameLabel(t *testing.T, arr []json.RawMessage) string {
	t.Helper()
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		t.Fatalf("failed to parse frame label: %v", err)
	}
	return label
}

func TestRelay_PublishAndQuery(t *testing.T) {
	relay, conn, _ := setupRelayTest(t)

	ev := signedEvent(t, 1985, "good service", nostr.Tags{{"L", "ai.wot"}})
	sendFrame(t, conn, "EVENT", ev)

	ok := readFrame(t, conn)
	if got := frameLabel(t, ok); got != "OK" {
		t.Fatalf("expected OK frame, got %s", got)
	}
	var accepted bool
	if err := json.Unmarshal(ok[2], &accepted); err != nil || !accepted {
		t.Fatalf("expected event accepted, got %s", ok[2])
	}

	sendFrame(t, conn, "REQ", "sub1", nostr.Filter{Kinds: []int{1985}})

	evFrame := readFrame(t, conn)
	if got := frameLabel(t, evFrame); got != "EVENT" {
		t.Fatalf("expected EVENT frame, got %s", got)
	}
	var received nostr.Event
	if err := json.Unmarshal(evFrame[2], &received); err != nil {
		t.Fatalf("failed to parse returned event: %v", err)
	}
	if received.ID != ev.ID {
		t.Fatalf("expected event %s, got %s", ev.ID, received.ID)
	}

	eose := readFrame(t, conn)
	if got := frameLabel(t, eose); got != "EOSE" {
		t.Fatalf("expected EOSE frame, got %s", got)
	}

	if len(relay.Events()) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(relay.Events()))
	}
}

func TestRelay_RejectsBadSignature(t *testing.T) {
	_, conn, _ := setupRelayTest(t)

	ev := signedEvent(t, 1985, "tamper me", nostr.Tags{})
	ev.Content = "tampered"
	sendFrame(t, conn, "EVENT", ev)

	ok := readFrame(t, conn)
	var accepted bool
	if err := json.Unmarshal(ok[2], &accepted); err != nil {
		t.Fatalf("failed to parse accepted flag: %v", err)
	}
	if accepted {
		t.Fatal("expected tampered event to be rejected")
	}
}

func TestRelay_RejectHook(t *testing.T) {
	relay, conn, _ := setupRelayTest(t)
	relay.Reject = func(*nostr.Event) string { return "blocked: test policy" }

	ev := signedEvent(t, 1985, "nope", nostr.Tags{})
	sendFrame(t, conn, "EVENT", ev)

	ok := readFrame(t, conn)
	var accepted bool
	var reason string
	json.Unmarshal(ok[2], &accepted)
	json.Unmarshal(ok[3], &reason)
	if accepted || reason != "blocked: test policy" {
		t.Fatalf("expected rejection with reason, got accepted=%v reason=%q", accepted, reason)
	}
	if len(relay.Events()) != 0 {
		t.Fatal("expected rejected event not to be stored")
	}
}

func TestRelay_FiltersByTag(t *testing.T) {
	relay, conn, _ := setupRelayTest(t)

	target := strings.Repeat("ab", 32)
	other := strings.Repeat("cd", 32)
	relay.Seed(
		signedEvent(t, 1985, "about target", nostr.Tags{{"L", "ai.wot"}, {"p", target}}),
		signedEvent(t, 1985, "about other", nostr.Tags{{"L", "ai.wot"}, {"p", other}}),
	)

	sendFrame(t, conn, "REQ", "sub1", nostr.Filter{
		Kinds: []int{1985},
		Tags:  nostr.TagMap{"p": {target}},
	})

	var got []nostr.Event
	for {
		arr := readFrame(t, conn)
		if frameLabel(t, arr) == "EOSE" {
			break
		}
		var ev nostr.Event
		if err := json.Unmarshal(arr[2], &ev); err != nil {
			t.Fatalf("failed to parse event: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 matching event, got %d", len(got))
	}
	if got[0].Content != "about target" {
		t.Fatalf("expected the target's event, got %q", got[0].Content)
	}
}

func TestRelay_LiveDelivery(t *testing.T) {
	relay, conn, _ := setupRelayTest(t)

	sendFrame(t, conn, "REQ", "live", nostr.Filter{Kinds: []int{6050}})
	eose := readFrame(t, conn)
	if got := frameLabel(t, eose); got != "EOSE" {
		t.Fatalf("expected EOSE on empty store, got %s", got)
	}

	ev := signedEvent(t, 6050, "{}", nostr.Tags{{"e", strings.Repeat("11", 32)}})
	relay.Seed(ev)

	frame := readFrame(t, conn)
	if got := frameLabel(t, frame); got != "EVENT" {
		t.Fatalf("expected live EVENT frame, got %s", got)
	}
	var received nostr.Event
	if err := json.Unmarshal(frame[2], &received); err != nil {
		t.Fatalf("failed to parse live event: %v", err)
	}
	if received.ID != ev.ID {
		t.Fatalf("expected live event %s, got %s", ev.ID, received.ID)
	}
}

func TestRelay_CloseStopsDelivery(t *testing.T) {
	relay, conn, _ := setupRelayTest(t)

	sendFrame(t, conn, "REQ", "live", nostr.Filter{Kinds: []int{6050}})
	_ = readFrame(t, conn) // EOSE

	sendFrame(t, conn, "CLOSE", "live")

	// Give the relay time to process the close.
	time.Sleep(50 * time.Millisecond)
	relay.Seed(signedEvent(t, 6050, "{}", nostr.Tags{}))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no delivery after CLOSE")
	}
}

func TestRelay_SubscriptionCount(t *testing.T) {
	relay, conn, _ := setupRelayTest(t)

	if got := relay.Subscriptions(); got != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", got)
	}

	sendFrame(t, conn, "REQ", "live", nostr.Filter{Kinds: []int{6050}})
	_ = readFrame(t, conn) // EOSE

	if got := relay.Subscriptions(); got != 1 {
		t.Fatalf("expected 1 subscription, got %d", got)
	}

	sendFrame(t, conn, "CLOSE", "live")
	time.Sleep(50 * time.Millisecond)
	if got := relay.Subscriptions(); got != 0 {
		t.Fatalf("expected 0 subscriptions after CLOSE, got %d", got)
	}
}

func TestRelay_IgnoresUnknownFrames(t *testing.T) {
	_, conn, _ := setupRelayTest(t)

	sendFrame(t, conn, "AUTH", "challenge")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to write garbage: %v", err)
	}

	// The connection must survive; a normal request still works.
	sendFrame(t, conn, "REQ", "sub1", nostr.Filter{Kinds: []int{1985}})
	eose := readFrame(t, conn)
	if got := frameLabel(t, eose); got != "EOSE" {
		t.Fatalf("expected EOSE after unknown frames, got %s", got)
	}
}

func TestRelay_DuplicateEventStoredOnce(t *testing.T) {
	relay, conn, _ := setupRelayTest(t)

	ev := signedEvent(t, 1985, "once", nostr.Tags{})
	sendFrame(t, conn, "EVENT", ev)
	_ = readFrame(t, conn) // OK
	sendFrame(t, conn, "EVENT", ev)
	ok := readFrame(t, conn)

	var accepted bool
	if err := json.Unmarshal(ok[2], &accepted); err != nil || !accepted {
		t.Fatalf("expected duplicate to be acknowledged, got %s", ok[2])
	}
	if len(relay.Events()) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(relay.Events()))
	}
}
