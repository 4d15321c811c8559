package httpapi

import "net/http"

type healthResponse struct {
	Version string `json:"version"`
}

// handleHealth implements GET /api/health (spec.md §4.6): 200 with the
// version if the sentinel's latest reading is ok, else 500. It runs
// even in DOC_ONLY mode (§6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Version: ""})
		return
	}
	status := s.Health.Status()
	if !status.OK {
		writeJSON(w, http.StatusInternalServerError, healthResponse{Version: s.Health.Version()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Version: s.Health.Version()})
}

// handleDocs serves a minimal documentation route, always enabled even
// in DOC_ONLY mode.
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("heksherd: see spec.md §6 for the full route list.\n"))
}
