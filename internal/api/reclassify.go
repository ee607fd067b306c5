package api

import (
	"net/http"

	"github.com/havenwatch/tracker/internal/model"
)

type reclassifyResponse struct {
	Reclassified int `json:"reclassified"`
}

func (s *Server) handleReclassifyUntagged(w http.ResponseWriter, r *http.Request) {
	s.reclassify(w, r, true)
}

func (s *Server) handleReclassifyAll(w http.ResponseWriter, r *http.Request) {
	s.reclassify(w, r, false)
}

// reclassify re-runs RuleEngine.Match over the selected activities and
// rewrites their (tag_id, rule_id).
func (s *Server) reclassify(w http.ResponseWriter, r *http.Request, untaggedOnly bool) {
	n, err := s.store.ReclassifyActivities(r.Context(), untaggedOnly, func(obs model.Observation) (string, *string) {
		return s.engine.Match(r.Context(), obs)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reclassify failed")
		return
	}
	writeJSON(w, http.StatusOK, reclassifyResponse{Reclassified: n})
}
