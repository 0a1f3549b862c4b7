package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jeletor/ai-wot/internal/event"
)

// badgeMaxAge is the Cache-Control lifetime of the badge in seconds.
// Scores move slowly; five minutes keeps relay load negligible even for
// a badge embedded in a busy README.
const badgeMaxAge = 300

// handleBadge handles GET /badge/{pubkey}.svg: a shields-style flat SVG
// badge showing the display score, colour banded. Responses carry an
// ETag derived from the score so unchanged badges revalidate cheaply.
func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	target := strings.TrimSuffix(file, ".svg")
	if target == file {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !event.IsValidKey(target) {
		writeError(w, http.StatusBadRequest, "invalid public key: expected 64 lowercase hex characters")
		return
	}
	scoreRequests.Inc()

	result := s.client.Score(r.Context(), target, s.scoring)

	value := fmt.Sprintf("%d/100", result.Display)
	if result.AttestationCount == 0 {
		value = "unrated"
	}

	etag := fmt.Sprintf(`"%d-%d"`, result.Display, result.AttestationCount)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", badgeMaxAge))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, renderBadge("ai-wot", value, badgeColor(result.Display, result.AttestationCount)))
}

// badgeColor maps a display score to a shields.io palette colour, grey
// for keys nobody has attested about.
func badgeColor(display, count int) string {
	switch {
	case count == 0:
		return "#9f9f9f"
	case display >= 80:
		return "#4c1"
	case display >= 60:
		return "#97ca00"
	case display >= 40:
		return "#dfb317"
	case display >= 20:
		return "#fe7d37"
	default:
		return "#e05d44"
	}
}

// renderBadge produces a flat two-segment SVG badge. Width is estimated
// at 7px per character of 11px Verdana plus padding, which is close
// enough for digits and short labels.
func renderBadge(label, value, color string) string {
	lw := 7*len(label) + 10
	vw := 7*len(value) + 10
	return fmt.Sprintf(badgeTemplate,
		lw+vw, label, value,
		lw+vw,
		lw, lw, vw, color, lw+vw,
		lw/2, label, lw/2, label,
		lw+vw/2, value, lw+vw/2, value,
	)
}

const badgeTemplate = `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="%s: %s">
<linearGradient id="g" x2="0" y2="100%%"><stop offset="0" stop-color="#bbb" stop-opacity=".1"/><stop offset="1" stop-opacity=".1"/></linearGradient>
<clipPath id="c"><rect width="%d" height="20" rx="3" fill="#fff"/></clipPath>
<g clip-path="url(#c)">
<rect width="%d" height="20" fill="#555"/>
<rect x="%d" width="%d" height="20" fill="%s"/>
<rect width="%d" height="20" fill="url(#g)"/>
</g>
<g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,DejaVu Sans,sans-serif" font-size="11">
<text x="%d" y="15" fill="#010101" fill-opacity=".3">%s</text>
<text x="%d" y="14">%s</text>
<text x="%d" y="15" fill="#010101" fill-opacity=".3">%s</text>
<text x="%d" y="14">%s</text>
</g>
</svg>
`
