package httpapi

import (
	"encoding/json"
	"net/http"

	"heksher/internal/apperr"
)

func (s *Server) handleGetRuleMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.Rules.GetMetadata(r.Context(), id)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleReplaceRuleMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var meta map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, s.Logger, apperr.Validation("rule", id, "metadata", "malformed request body"))
		return
	}
	if err := s.Rules.ReplaceMetadata(r.Context(), id, meta); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMergeRuleMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, s.Logger, apperr.Validation("rule", id, "metadata", "malformed request body"))
		return
	}
	if err := s.Rules.MergeMetadata(r.Context(), id, patch); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearRuleMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Rules.ClearMetadata(r.Context(), id); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRuleMetadataKey(w http.ResponseWriter, r *http.Request) {
	id, key := r.PathValue("id"), r.PathValue("key")
	v, err := s.Rules.GetMetadataKey(r.Context(), id, key)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSetRuleMetadataKey(w http.ResponseWriter, r *http.Request) {
	id, key := r.PathValue("id"), r.PathValue("key")
	var v json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, s.Logger, apperr.Validation("rule", id, "metadata", "malformed request body"))
		return
	}
	if err := s.Rules.SetMetadataKey(r.Context(), id, key, v); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteRuleMetadataKey(w http.ResponseWriter, r *http.Request) {
	id, key := r.PathValue("id"), r.PathValue("key")
	if err := s.Rules.DeleteMetadataKey(r.Context(), id, key); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
