package api

import (
	"net/http"

	"github.com/havenwatch/tracker/internal/model"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.AllSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load settings failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings writes every recognised key present in the request
// body. Unrecognised keys are rejected so a typo does not silently create
// a dead setting the façade never reads back.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings body")
		return
	}

	recognised := model.DefaultSettings()
	for key, value := range body {
		if _, ok := recognised[key]; !ok {
			writeError(w, http.StatusBadRequest, "unrecognised setting key: "+key)
			return
		}
		if err := s.store.SetSetting(r.Context(), key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "save settings failed")
			return
		}
	}

	settings, err := s.store.AllSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load settings failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetAutostart(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetSetting(r.Context(), model.SettingAutostart, "0")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load autostart failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{model.SettingAutostart: v})
}

// handlePutAutostart writes the autostart flag. Registering or removing
// the actual per-user OS autostart entry is the out-of-scope registration
// helper named in the external interfaces; this endpoint only persists the
// flag the helper reads.
func (s *Server) handlePutAutostart(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	v, ok := body[model.SettingAutostart]
	if !ok {
		writeError(w, http.StatusBadRequest, "missing autostart field")
		return
	}
	if err := s.store.SetSetting(r.Context(), model.SettingAutostart, v); err != nil {
		writeError(w, http.StatusInternalServerError, "save autostart failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{model.SettingAutostart: v})
}
