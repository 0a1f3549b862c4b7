package server

import (
	"net/http"
	"strconv"

	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/relay"
	"github.com/jeletor/ai-wot/internal/wot"
)

// handleScore handles GET /api/score/{pubkey}: compute the trust score
// for a key. ?category= projects onto a named category; ?breakdown=1
// includes per-attestation provenance.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("pubkey")
	if !event.IsValidKey(target) {
		writeError(w, http.StatusBadRequest, "invalid public key: expected 64 lowercase hex characters")
		return
	}
	scoreRequests.Inc()

	var (
		result   wot.Result
		category = r.URL.Query().Get("category")
	)
	if category != "" {
		var err error
		result, err = s.client.CategoryScore(r.Context(), target, category, s.scoring)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		result = s.client.Score(r.Context(), target, s.scoring)
	}

	q := r.URL.Query().Get("breakdown")
	if q != "1" && q != "true" {
		result.Breakdown = nil
	}

	resp := map[string]any{
		"pubkey": target,
		"score":  result,
	}
	if category != "" {
		resp["category"] = category
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAttestations handles GET /api/attestations/{pubkey}: the raw
// accepted attestations about a key, revocations already applied.
// ?since= (unix seconds) and ?limit= narrow the relay query.
func (s *Server) handleAttestations(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("pubkey")
	if !event.IsValidKey(target) {
		writeError(w, http.StatusBadRequest, "invalid public key: expected 64 lowercase hex characters")
		return
	}

	var opts relay.QueryOptions
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := strconv.ParseInt(v, 10, 64)
		if err != nil || since < 0 {
			writeError(w, http.StatusBadRequest, "since must be a unix timestamp")
			return
		}
		opts.Since = since
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	atts := s.client.QueryAttestations(r.Context(), target, opts)

	// Build response with the parsed type alongside the raw fields.
	result := make([]map[string]any, len(atts))
	for i, a := range atts {
		entry := map[string]any{
			"id":         a.ID,
			"author":     a.Author,
			"target":     a.Target,
			"created_at": a.CreatedAt,
			"content":    a.Content,
		}
		if t, err := wot.TypeFromTags(a.Tags); err == nil {
			entry["type"] = t
		}
		result[i] = entry
	}

	writeJSON(w, http.StatusOK, result)
}
