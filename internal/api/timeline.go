package api

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// handleTimeline returns ordered activity rows for a day, optionally
// restricted to a single tag.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	tagID := r.URL.Query().Get("tag_id")

	activities, err := s.store.Timeline(r.Context(), day, tagID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "timeline query failed")
		return
	}
	sort.Slice(activities, func(i, j int) bool { return activities[i].Start.Before(activities[j].Start) })

	writeJSON(w, http.StatusOK, activities)
}

// extractDomain pulls the registrable host out of a stored browser_url,
// tolerating URLs without a scheme.
func extractDomain(raw string) string {
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
