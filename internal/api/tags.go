package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenwatch/tracker/internal/model"
)

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list tags failed")
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tag, err := s.store.GetTag(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "tag not found")
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var t model.Tag
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tag body")
		return
	}
	t.ID = ""

	saved, err := s.store.UpsertTag(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create tag failed")
		return
	}
	s.reloadAfterMutation(r.Context())
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var t model.Tag
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tag body")
		return
	}
	t.ID = id

	saved, err := s.store.UpsertTag(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update tag failed")
		return
	}
	s.reloadAfterMutation(r.Context())
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteTag(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete tag failed")
		return
	}
	s.reloadAfterMutation(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// reloadAfterMutation re-reads the rule cache and the focus-window cache,
// both of which are derived from tag/rule rows: every CRUD mutation on
// either table must be visible to the next Match/Consider call.
func (s *Server) reloadAfterMutation(ctx context.Context) {
	if err := s.engine.Reload(ctx); err != nil {
		s.log.WithError(err).Error("rule engine reload failed after mutation")
	}
	if err := s.enforcer.Reload(ctx); err != nil {
		s.log.WithError(err).Error("focus enforcer reload failed after mutation")
	}
}
