package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/relay"
	"github.com/jeletor/ai-wot/internal/wot"
)

// handleListCandidates handles GET /api/candidates: list queued
// candidates, filterable by ?status=, ?target=, ?source= and ?limit=.
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "candidate store not configured")
		return
	}

	f := candidate.Filter{
		Target: r.URL.Query().Get("target"),
		Source: r.URL.Query().Get("source"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := candidate.Status(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status "+strconv.Quote(status))
			return
		}
		f.Status = st
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	list := s.store.List(f)
	if list == nil {
		list = []candidate.Candidate{}
	}
	writeJSON(w, http.StatusOK, list)
}

// confirmRequest is the JSON body for confirming a candidate. All fields
// are optional; publish additionally signs and broadcasts the attestation.
type confirmRequest struct {
	Type    string `json:"type"`
	Comment string `json:"comment"`
	Publish bool   `json:"publish"`
}

// handleConfirmCandidate handles POST /api/candidates/{id}/confirm:
// confirm a pending candidate, optionally editing it and publishing the
// resulting attestation.
func (s *Server) handleConfirmCandidate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "candidate store not configured")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "candidate id is required")
		return
	}

	var req confirmRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	edits := candidate.Edits{Comment: req.Comment}
	if req.Type != "" {
		t, err := wot.ParseType(req.Type)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		edits.Type = t
	}

	if req.Publish {
		if s.signer == nil {
			writeError(w, http.StatusBadRequest, "daemon has no signing key; confirm without publish")
			return
		}
		c, err := s.store.ConfirmAndPublish(r.Context(), id, edits, s.signer, relay.Broadcaster{Client: s.client})
		if err != nil {
			s.writeCandidateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	c, err := s.store.Confirm(id, edits)
	if err != nil {
		s.writeCandidateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// rejectRequest is the JSON body for rejecting a candidate.
type rejectRequest struct {
	Reason string `json:"reason"`
}

// handleRejectCandidate handles POST /api/candidates/{id}/reject:
// reject a pending candidate.
func (s *Server) handleRejectCandidate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "candidate store not configured")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "candidate id is required")
		return
	}

	var req rejectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	c, err := s.store.Reject(id, req.Reason)
	if err != nil {
		s.writeCandidateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// writeCandidateError maps candidate state-machine errors to HTTP status
// codes. A publish failure leaves the candidate confirmed, so it is
// reported as a gateway problem rather than a client one.
func (s *Server) writeCandidateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, candidate.ErrNotFound):
		writeError(w, http.StatusNotFound, "candidate not found")
	case errors.Is(err, candidate.ErrNotPending):
		writeError(w, http.StatusConflict, "candidate is not pending")
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
