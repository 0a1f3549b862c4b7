package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/keys"
	"github.com/jeletor/ai-wot/internal/relay"
	"github.com/jeletor/ai-wot/internal/relay/relaytest"
	"github.com/jeletor/ai-wot/internal/wot"
)

const testNow = int64(1700000000)

// startRelay runs an in-process relay and returns it with its ws:// URL.
func startRelay(t *testing.T) (*relaytest.Relay, string) {
	t.Helper()
	rt := relaytest.New()
	srv := httptest.NewServer(rt)
	t.Cleanup(srv.Close)
	return rt, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// testEnv bundles a server with the collaborators tests poke at.
type testEnv struct {
	server *Server
	store  *candidate.Store
	signer *keys.Keystore
}

// setupTestServer creates a Server wired to the given relays with a fresh
// keystore and candidate store, scoring pinned to testNow.
func setupTestServer(t *testing.T, relays ...string) testEnv {
	t.Helper()

	ks, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	store := candidate.NewStore(candidate.Config{})

	scoring := wot.DefaultOptions()
	scoring.Now = testNow

	srv := New(Options{
		Client:  relay.NewClient(relay.Options{Relays: relays, Timeout: 3 * time.Second}),
		Store:   store,
		Signer:  ks,
		Scoring: scoring,
	})
	return testEnv{server: srv, store: store, signer: ks}
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

// seedAttestation signs and stores an attestation on the relay.
func seedAttestation(t *testing.T, rt *relaytest.Relay, sk string, typ wot.Type, target, content string, createdAt int64) *nostr.Event {
	t.Helper()
	ev, err := event.NewAttestation(event.Body{Type: typ, Target: target, Comment: content}, nostr.Timestamp(createdAt))
	if err != nil {
		t.Fatalf("failed to build attestation: %v", err)
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("failed to sign attestation: %v", err)
	}
	rt.Seed(ev)
	return ev
}

// get performs a GET against the server and decodes the JSON body.
func get(t *testing.T, srv *Server, path string, wantStatus int) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d; body = %s", path, rec.Code, wantStatus, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

// post performs a POST with a JSON body and decodes the JSON response.
func post(t *testing.T, srv *Server, path string, reqBody any, wantStatus int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if reqBody != nil {
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != wantStatus {
		t.Fatalf("POST %s: status = %d, want %d; body = %s", path, rec.Code, wantStatus, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

// addPending queues a pending candidate and returns its id.
func addPending(t *testing.T, store *candidate.Store, target string) string {
	t.Helper()
	c, err := store.Add(candidate.Candidate{
		Type:      wot.TypeGeneralTrust,
		TargetKey: target,
		Comment:   "observed a completed job",
		Source:    "dvm",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return c.ID
}

func TestServer_Health(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)

	body := get(t, env.server, "/api/health", http.StatusOK)

	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
	if body["service"] != "ai-wot" {
		t.Errorf("service = %q, want %q", body["service"], "ai-wot")
	}
	if body["pubkey"] != env.signer.PublicKey() {
		t.Errorf("pubkey = %q, want %q", body["pubkey"], env.signer.PublicKey())
	}
}

func TestServer_Score(t *testing.T) {
	rt, url := startRelay(t)
	env := setupTestServer(t, url)
	skA, _ := newKey(t)
	_, target := newKey(t)

	seedAttestation(t, rt, skA, wot.TypeServiceQuality, target, "fast and correct", testNow)

	body := get(t, env.server, "/api/score/"+target, http.StatusOK)

	if body["pubkey"] != target {
		t.Errorf("pubkey = %q, want %q", body["pubkey"], target)
	}
	score, ok := body["score"].(map[string]any)
	if !ok {
		t.Fatalf("score missing from response: %v", body)
	}
	if score["display"] != float64(20) {
		t.Errorf("display = %v, want 20", score["display"])
	}
	if score["raw"] != 1.95 {
		t.Errorf("raw = %v, want 1.95", score["raw"])
	}
	if score["attestation_count"] != float64(1) {
		t.Errorf("attestation_count = %v, want 1", score["attestation_count"])
	}
	if _, present := score["breakdown"]; present {
		t.Error("breakdown should be omitted without ?breakdown=1")
	}
}

func TestServer_Score_Breakdown(t *testing.T) {
	rt, url := startRelay(t)
	env := setupTestServer(t, url)
	skA, _ := newKey(t)
	_, target := newKey(t)

	seedAttestation(t, rt, skA, wot.TypeServiceQuality, target, "fast and correct", testNow)

	body := get(t, env.server, "/api/score/"+target+"?breakdown=1", http.StatusOK)

	score := body["score"].(map[string]any)
	breakdown, ok := score["breakdown"].([]any)
	if !ok || len(breakdown) != 1 {
		t.Fatalf("expected 1 breakdown entry, got %v", score["breakdown"])
	}
}

func TestServer_Score_Category(t *testing.T) {
	rt, url := startRelay(t)
	env := setupTestServer(t, url)
	skA, _ := newKey(t)
	_, target := newKey(t)

	seedAttestation(t, rt, skA, wot.TypeServiceQuality, target, "fast and correct", testNow)

	body := get(t, env.server, "/api/score/"+target+"?category=identity", http.StatusOK)
	score := body["score"].(map[string]any)
	if score["attestation_count"] != float64(0) {
		t.Errorf("identity attestation_count = %v, want 0", score["attestation_count"])
	}
	if body["category"] != "identity" {
		t.Errorf("category = %q, want %q", body["category"], "identity")
	}

	errBody := get(t, env.server, "/api/score/"+target+"?category=banana", http.StatusBadRequest)
	if !strings.Contains(errBody["error"].(string), "banana") {
		t.Errorf("expected unknown category error, got %v", errBody["error"])
	}
}

func TestServer_Score_InvalidKey(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)

	get(t, env.server, "/api/score/not-a-key", http.StatusBadRequest)
}

func TestServer_Attestations(t *testing.T) {
	rt, url := startRelay(t)
	env := setupTestServer(t, url)
	skA, _ := newKey(t)
	skB, _ := newKey(t)
	_, target := newKey(t)

	seedAttestation(t, rt, skA, wot.TypeServiceQuality, target, "fast", testNow)
	seedAttestation(t, rt, skB, wot.TypeWarning, target, "slow to deliver", testNow+1)

	req := httptest.NewRequest(http.MethodGet, "/api/attestations/"+target, nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var list []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0]["type"] != "service-quality" {
		t.Errorf("first type = %v, want service-quality", list[0]["type"])
	}
	if list[1]["type"] != "warning" {
		t.Errorf("second type = %v, want warning", list[1]["type"])
	}
}

func TestServer_Candidates_ListAndFilter(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)
	_, target := newKey(t)

	addPending(t, env.store, target)
	id2 := addPending(t, env.store, target)
	if _, err := env.store.Reject(id2, "not convincing"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/candidates", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("unfiltered len = %d, want 2", len(list))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/candidates?status=pending", nil)
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	list = nil
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("pending len = %d, want 1", len(list))
	}

	get(t, env.server, "/api/candidates?status=bogus", http.StatusBadRequest)
}

func TestServer_ConfirmCandidate(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)
	_, target := newKey(t)
	id := addPending(t, env.store, target)

	body := post(t, env.server, "/api/candidates/"+id+"/confirm",
		map[string]any{"comment": "verified the delivery myself"}, http.StatusOK)

	if body["status"] != "confirmed" {
		t.Errorf("status = %q, want %q", body["status"], "confirmed")
	}
	if body["comment"] != "verified the delivery myself" {
		t.Errorf("comment = %q, want edited comment", body["comment"])
	}

	// Confirming twice is a state-machine violation.
	post(t, env.server, "/api/candidates/"+id+"/confirm", nil, http.StatusConflict)
}

func TestServer_ConfirmCandidate_BadType(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)
	_, target := newKey(t)
	id := addPending(t, env.store, target)

	post(t, env.server, "/api/candidates/"+id+"/confirm",
		map[string]any{"type": "glowing-review"}, http.StatusBadRequest)
}

func TestServer_ConfirmCandidate_NotFound(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)

	post(t, env.server, "/api/candidates/ffffffffffffffff/confirm", nil, http.StatusNotFound)
}

func TestServer_ConfirmCandidate_Publish(t *testing.T) {
	rt, url := startRelay(t)
	env := setupTestServer(t, url)
	_, target := newKey(t)
	id := addPending(t, env.store, target)

	body := post(t, env.server, "/api/candidates/"+id+"/confirm",
		map[string]any{"publish": true}, http.StatusOK)

	if body["status"] != "published" {
		t.Fatalf("status = %q, want %q; body = %v", body["status"], "published", body)
	}
	eventID, _ := body["published_event_id"].(string)
	if eventID == "" {
		t.Fatal("expected a published event id")
	}

	events := rt.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event on the relay, got %d", len(events))
	}
	if events[0].ID != eventID || events[0].Kind != event.KindAttestation {
		t.Errorf("relay holds %d/%s, want %d/%s", events[0].Kind, events[0].ID, event.KindAttestation, eventID)
	}
}

func TestServer_RejectCandidate(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)
	_, target := newKey(t)
	id := addPending(t, env.store, target)

	body := post(t, env.server, "/api/candidates/"+id+"/reject",
		map[string]any{"reason": "wrong target"}, http.StatusOK)

	if body["status"] != "rejected" {
		t.Errorf("status = %q, want %q", body["status"], "rejected")
	}
	if body["reject_reason"] != "wrong target" {
		t.Errorf("reject_reason = %q, want %q", body["reject_reason"], "wrong target")
	}
}

func TestServer_Relays(t *testing.T) {
	rt, url := startRelay(t)
	env := setupTestServer(t, url)
	skA, _ := newKey(t)
	_, target := newKey(t)
	seedAttestation(t, rt, skA, wot.TypeGeneralTrust, target, "solid", testNow)

	// Before any relay traffic the list is empty.
	req := httptest.NewRequest(http.MethodGet, "/api/relays", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty relay list, got %s", rec.Body.String())
	}

	get(t, env.server, "/api/score/"+target, http.StatusOK)

	req = httptest.NewRequest(http.MethodGet, "/api/relays", nil)
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	var list []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0]["url"] != url {
		t.Errorf("url = %q, want %q", list[0]["url"], url)
	}
	if list[0]["healthy"] != true {
		t.Errorf("healthy = %v, want true", list[0]["healthy"])
	}
}

func TestServer_RateLimit(t *testing.T) {
	_, url := startRelay(t)

	ks, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	srv := New(Options{
		Client:     relay.NewClient(relay.Options{Relays: []string{url}, Timeout: 3 * time.Second}),
		Signer:     ks,
		RateLimit:  2,
		RateWindow: time.Minute,
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	// A different client IP via X-Forwarded-For gets its own window.
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("forwarded request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// The metrics scrape is never limited.
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestServer_Metrics(t *testing.T) {
	_, url := startRelay(t)
	env := setupTestServer(t, url)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "wot_score_requests_total") {
		t.Error("expected wot_score_requests_total in metrics output")
	}
}

func TestGetIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "192.0.2.7:4411"
	if ip := getIP(req); ip != "192.0.2.7" {
		t.Errorf("ip = %q, want %q", ip, "192.0.2.7")
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := getIP(req); ip != "203.0.113.9" {
		t.Errorf("forwarded ip = %q, want %q", ip, "203.0.113.9")
	}
}
