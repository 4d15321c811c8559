package httpapi

import (
	"encoding/json"
	"net/http"

	"heksher/internal/apperr"
	"heksher/internal/features"
)

type featureView struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	list, err := s.Features.List(r.Context())
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	out := make([]featureView, 0, len(list))
	for _, f := range list {
		out = append(out, featureView{Name: f.Name, Index: f.Index})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("f")
	f, err := s.Features.Get(r.Context(), name)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, featureView{Name: f.Name, Index: f.Index})
}

type addFeatureRequest struct {
	ContextFeature string `json:"context_feature"`
}

func (s *Server) handleAddFeature(w http.ResponseWriter, r *http.Request) {
	var req addFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Logger, apperr.Validation("context_feature", "", "context_feature", "malformed request body"))
		return
	}
	if err := s.Features.Add(r.Context(), req.ContextFeature); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("f")
	if err := s.Features.Delete(r.Context(), name); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveFeatureRequest struct {
	ToBefore string `json:"to_before"`
	ToAfter  string `json:"to_after"`
}

func (s *Server) handleMoveFeature(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("f")
	var req moveFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Logger, apperr.Validation("context_feature", name, "body", "malformed request body"))
		return
	}
	var pivot string
	var which features.MovePivot
	switch {
	case req.ToBefore != "":
		pivot, which = req.ToBefore, features.Before
	case req.ToAfter != "":
		pivot, which = req.ToAfter, features.After
	default:
		writeError(w, s.Logger, apperr.Validation("context_feature", name, "body", "exactly one of to_before/to_after is required"))
		return
	}
	if err := s.Features.Move(r.Context(), name, which, pivot); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
