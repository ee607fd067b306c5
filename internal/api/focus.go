package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenwatch/tracker/internal/focus"
	"github.com/havenwatch/tracker/internal/model"
)

type focusTagView struct {
	model.Tag
	CurrentlyBlocked bool `json:"currently_blocked"`
}

// handleGetFocus returns every tag's block configuration plus whether it
// is blocked right now.
func (s *Server) handleGetFocus(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list tags failed")
		return
	}
	views := make([]focusTagView, 0, len(tags))
	for _, t := range tags {
		views = append(views, focusTagView{Tag: t, CurrentlyBlocked: s.enforcer.IsBlocked(t.ID)})
	}
	writeJSON(w, http.StatusOK, views)
}

type focusUpdateRequest struct {
	BlockEnabled bool   `json:"block_enabled"`
	BlockStart   string `json:"block_start"`
	BlockEnd     string `json:"block_end"`
}

// handlePutFocus modifies a tag's block configuration. Per the spec, the
// write is refused with 403 if the tag is currently within its existing
// block window -- changing block rules mid-block is exactly the tampering
// the feature exists to prevent.
func (s *Server) handlePutFocus(w http.ResponseWriter, r *http.Request) {
	tagID := chi.URLParam(r, "tag_id")

	if s.enforcer.IsBlocked(tagID) {
		writeError(w, http.StatusForbidden, "tag is currently within its block window")
		return
	}

	var body focusUpdateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid focus body")
		return
	}

	tag, err := s.store.GetTag(r.Context(), tagID)
	if err != nil {
		writeError(w, http.StatusNotFound, "tag not found")
		return
	}
	if tag.Reserved() {
		writeError(w, http.StatusBadRequest, "reserved tags cannot be blocked")
		return
	}

	tag.BlockEnabled = body.BlockEnabled
	tag.BlockStart = body.BlockStart
	tag.BlockEnd = body.BlockEnd

	saved, err := s.store.UpsertTag(r.Context(), tag)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save tag failed")
		return
	}
	if err := s.enforcer.Reload(r.Context()); err != nil {
		s.log.WithError(err).Error("focus enforcer reload failed")
	}
	writeJSON(w, http.StatusOK, saved)
}

type emergencyResetRequest struct {
	Reason string `json:"reason"`
}

// handleEmergencyReset clears every tag's block flag after validating the
// caller supplied a reason of at least 10 characters.
func (s *Server) handleEmergencyReset(w http.ResponseWriter, r *http.Request) {
	var body emergencyResetRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := focus.EmergencyReset(r.Context(), s.store, body.Reason, s.log); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.enforcer.Reload(r.Context()); err != nil {
		s.log.WithError(err).Error("focus enforcer reload failed after emergency reset")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
