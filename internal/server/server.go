// Package server exposes the daemon's HTTP surface: score and
// attestation lookups, the candidate review API, relay health, an SVG
// trust badge and Prometheus metrics. All routes are read-mostly; the
// only mutations are candidate confirm/reject, which the operator drives.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/ratelimit"
	"github.com/jeletor/ai-wot/internal/relay"
	"github.com/jeletor/ai-wot/internal/wot"
)

// Options wires the server's collaborators. Client is required; the rest
// default to off or no-op.
type Options struct {
	// Client answers score and attestation queries and fans out publishes.
	Client *relay.Client

	// Store holds candidates for the review API. Nil disables the
	// candidate routes with 503s rather than 404s.
	Store *candidate.Store

	// Signer signs attestations for candidates confirmed with publish.
	// Nil restricts confirmation to the queue-only form.
	Signer event.Signer

	// Scoring is the base options for every score computed here.
	Scoring wot.Options

	// RateLimit is requests per RateWindow per client IP. 0 disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration

	Logger *zap.Logger
}

// Server is the daemon's HTTP API.
type Server struct {
	client  *relay.Client
	store   *candidate.Store
	signer  event.Signer
	scoring wot.Options
	limiter *ratelimit.PerKey
	log     *zap.Logger
	mux     *http.ServeMux
}

// New creates a Server with all routes registered.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		client:  opts.Client,
		store:   opts.Store,
		signer:  opts.Signer,
		scoring: opts.Scoring,
		log:     log,
		mux:     http.NewServeMux(),
	}
	if opts.RateLimit > 0 {
		window := opts.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		s.limiter = ratelimit.NewPerKey(opts.RateLimit, window)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler. Everything except the metrics
// scrape endpoint is rate limited per client IP.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && r.URL.Path != "/metrics" {
		if !s.limiter.Allow(getIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health + relay status
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/relays", s.handleRelays)

	// Scores
	s.mux.HandleFunc("GET /api/score/{pubkey}", s.handleScore)
	s.mux.HandleFunc("GET /api/attestations/{pubkey}", s.handleAttestations)

	// Candidate review
	s.mux.HandleFunc("GET /api/candidates", s.handleListCandidates)
	s.mux.HandleFunc("POST /api/candidates/{id}/confirm", s.handleConfirmCandidate)
	s.mux.HandleFunc("POST /api/candidates/{id}/reject", s.handleRejectCandidate)

	// Badge + metrics
	s.mux.HandleFunc("GET /badge/{file}", s.handleBadge)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// handleHealth handles GET /api/health: service liveness plus a relay
// health summary.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"service": "ai-wot",
	}
	if s.client != nil {
		stats := s.client.Health().Stats()
		resp["relays_healthy"] = stats.RelaysHealthy
		resp["relays_total"] = stats.RelaysTotal
	}
	if s.signer != nil {
		resp["pubkey"] = s.signer.PublicKey()
	}
	if s.store != nil {
		resp["candidates"] = s.store.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRelays handles GET /api/relays: per-relay health.
func (s *Server) handleRelays(w http.ResponseWriter, r *http.Request) {
	snap := s.client.Health().Snapshot()
	if snap == nil {
		snap = []relay.RelayHealth{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// getIP extracts the client IP from a request, respecting X-Forwarded-For
// for proxied deployments.
func getIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
