package httpapi

import (
	"encoding/json"
	"net/http"

	"heksher/internal/apperr"
)

func (s *Server) handleGetSettingMetadata(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("n")
	meta, err := s.Settings.GetMetadata(r.Context(), name)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleReplaceSettingMetadata(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("n")
	var meta map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "metadata", "malformed request body"))
		return
	}
	if err := s.Settings.ReplaceMetadata(r.Context(), name, meta); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMergeSettingMetadata(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("n")
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "metadata", "malformed request body"))
		return
	}
	if err := s.Settings.MergeMetadata(r.Context(), name, patch); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearSettingMetadata(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("n")
	if err := s.Settings.ClearMetadata(r.Context(), name); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettingMetadataKey(w http.ResponseWriter, r *http.Request) {
	name, key := r.PathValue("n"), r.PathValue("key")
	v, err := s.Settings.GetMetadataKey(r.Context(), name, key)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSetSettingMetadataKey(w http.ResponseWriter, r *http.Request) {
	name, key := r.PathValue("n"), r.PathValue("key")
	var v json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "metadata", "malformed request body"))
		return
	}
	if err := s.Settings.SetMetadataKey(r.Context(), name, key, v); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSettingMetadataKey(w http.ResponseWriter, r *http.Request) {
	name, key := r.PathValue("n"), r.PathValue("key")
	if err := s.Settings.DeleteMetadataKey(r.Context(), name, key); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
