package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"heksher/internal/apperr"
	"heksher/internal/rules"
)

type createRuleRequest struct {
	Setting       string                     `json:"setting"`
	FeatureValues map[string]string          `json:"feature_values"`
	Value         json.RawMessage            `json:"value"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
}

type createRuleResponse struct {
	RuleID string `json:"rule_id"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Logger, apperr.Validation("rule", "", "body", "malformed request body"))
		return
	}
	id, err := s.Rules.Create(r.Context(), req.Setting, req.FeatureValues, req.Value, req.Metadata)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRuleResponse{RuleID: id})
}

type ruleView struct {
	ID            string                     `json:"rule_id"`
	Setting       string                     `json:"setting"`
	FeatureValues map[string]string          `json:"feature_values"`
	Value         json.RawMessage            `json:"value"`
	Metadata      map[string]json.RawMessage `json:"metadata,omitempty"`
}

func ruleViewFrom(r rules.Rule) ruleView {
	return ruleView{ID: r.ID, Setting: r.Setting, FeatureValues: r.FeatureValues, Value: r.Value, Metadata: r.Metadata}
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rule, err := s.Rules.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleViewFrom(rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Rules.Delete(r.Context(), id); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearchRule implements GET /rules/search?setting=&feature_values=f:v,...
func (s *Server) handleSearchRule(w http.ResponseWriter, r *http.Request) {
	setting := r.URL.Query().Get("setting")
	if setting == "" {
		writeError(w, s.Logger, apperr.Validation("rule", "", "setting", "setting is required"))
		return
	}
	fv, err := parseFeatureValuesParam(r.URL.Query().Get("feature_values"))
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	id, err := s.Rules.Search(r.Context(), setting, fv)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	rule, err := s.Rules.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleViewFrom(rule))
}

// parseFeatureValuesParam parses the comma-separated "f:v,f2:v2" query
// parameter shape spec.md §6's search endpoint specifies.
func parseFeatureValuesParam(raw string) (map[string]string, error) {
	out := map[string]string{}
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, apperr.Validation("rule", "", "feature_values", "malformed feature_values query parameter")
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

type setRuleValueRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleSetRuleValue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setRuleValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Logger, apperr.Validation("rule", id, "value", "malformed request body"))
		return
	}
	if err := s.Rules.SetValue(r.Context(), id, req.Value); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePatchRule is the deprecated PATCH /rules/{id} alias for SetValue
// (spec.md §4.3, §6).
func (s *Server) handlePatchRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setRuleValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Logger, apperr.Validation("rule", id, "value", "malformed request body"))
		return
	}
	if err := s.Rules.Patch(r.Context(), id, req.Value); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
