package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenwatch/tracker/internal/model"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list rules failed")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body")
		return
	}
	rule.ID = ""

	saved, err := s.store.UpsertRule(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create rule failed")
		return
	}
	s.reloadAfterMutation(r.Context())
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rule model.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body")
		return
	}
	rule.ID = id

	saved, err := s.store.UpsertRule(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update rule failed")
		return
	}
	s.reloadAfterMutation(r.Context())
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete rule failed")
		return
	}
	s.reloadAfterMutation(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
