package httpapi

import (
	"encoding/json"
	"net/http"

	"heksher/internal/apperr"
	"heksher/internal/settings"
	"heksher/internal/typesys"
)

type declareRequestBody struct {
	Name                 string                     `json:"name"`
	ConfigurableFeatures []string                   `json:"configurable_features"`
	Type                 string                     `json:"type"`
	Default              *json.RawMessage           `json:"default"`
	Metadata             map[string]json.RawMessage `json:"metadata"`
	Alias                string                     `json:"alias"`
	Version              string                     `json:"version"`
}

type declareResponseBody struct {
	Outcome     string              `json:"outcome"`
	Version     string              `json:"version"`
	Differences []attributeDiffView `json:"differences,omitempty"`
}

type attributeDiffView struct {
	Attribute string `json:"attribute"`
	Level     string `json:"level"`
	Old       string `json:"old,omitempty"`
	New       string `json:"new,omitempty"`
}

func (s *Server) handleDeclare(w http.ResponseWriter, r *http.Request) {
	var body declareRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", "", "body", "malformed request body"))
		return
	}
	typ, err := typesys.Parse(body.Type)
	if err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", body.Name, "type", "malformed type expression"))
		return
	}
	major, minor, err := parseVersion(body.Version)
	if err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", body.Name, "version", "malformed version"))
		return
	}

	req := settings.DeclareRequest{
		Name:                 body.Name,
		ConfigurableFeatures: body.ConfigurableFeatures,
		Type:                 typ,
		DefaultValue:         body.Default,
		Metadata:             body.Metadata,
		Alias:                body.Alias,
		VersionMajor:         major,
		VersionMinor:         minor,
	}
	res, err := s.Settings.Declare(r.Context(), req)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	status := http.StatusOK
	switch res.Outcome {
	case settings.OutcomeRejected, settings.OutcomeMismatch:
		status = http.StatusConflict
	}
	writeJSON(w, status, declareResponseBody{
		Outcome:     string(res.Outcome),
		Version:     res.LatestVersion.String(),
		Differences: diffViewsFrom(res.Differences),
	})
}

func diffViewsFrom(diffs []settings.AttributeDiff) []attributeDiffView {
	if len(diffs) == 0 {
		return nil
	}
	out := make([]attributeDiffView, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, attributeDiffView{Attribute: d.Attribute, Level: d.Level.String(), Old: d.Old, New: d.New})
	}
	return out
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Settings.Delete(r.Context(), name); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingView struct {
	Name                 string                     `json:"name"`
	Type                 string                     `json:"type"`
	DefaultValue         json.RawMessage            `json:"default_value,omitempty"`
	ConfigurableFeatures []string                   `json:"configurable_features"`
	Aliases              []string                   `json:"aliases,omitempty"`
	Version              string                     `json:"version"`
	Metadata             map[string]json.RawMessage `json:"metadata,omitempty"`
}

func settingViewFrom(st settings.Setting, includeMetadata bool) settingView {
	features := make([]string, 0, len(st.ConfigurableFeatures))
	for f := range st.ConfigurableFeatures {
		features = append(features, f)
	}
	v := settingView{
		Name:                 st.CanonicalName,
		Type:                 st.Type.Format(),
		ConfigurableFeatures: features,
		Aliases:              st.Aliases,
		Version:              st.LatestVersion.String(),
	}
	if st.DefaultValue != nil {
		v.DefaultValue = *st.DefaultValue
	}
	if includeMetadata {
		v.Metadata = st.Metadata
	}
	return v
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	st, err := s.Settings.Resolve(r.Context(), name)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settingViewFrom(st, true))
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	includeAdditional := r.URL.Query().Get("include_additional_data") == "true"
	names, err := s.Settings.List(r.Context())
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	out := make([]settingView, 0, len(names))
	for _, name := range names {
		st, err := s.Settings.Get(r.Context(), name)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		out = append(out, settingViewFrom(st, includeAdditional))
	}
	writeJSON(w, http.StatusOK, out)
}

type conflictsResponse struct {
	Conflicts []string `json:"conflicts"`
}

func conflictStrings(cs []settings.ExplicitConflict) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.RuleID != "" {
			out = append(out, c.RuleID+": "+c.Message)
		} else {
			out = append(out, c.Message)
		}
	}
	return out
}

type putTypeRequest struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

func (s *Server) handlePutSettingType(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("n")
	var body putTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "body", "malformed request body"))
		return
	}
	typ, err := typesys.Parse(body.Type)
	if err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "type", "malformed type expression"))
		return
	}
	major, minor, err := parseVersion(body.Version)
	if err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "version", "malformed version"))
		return
	}
	conflicts, err := s.Settings.PutType(r.Context(), name, typ, settings.Version{Major: major, Minor: minor})
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if len(conflicts) > 0 {
		writeJSON(w, http.StatusConflict, conflictsResponse{Conflicts: conflictStrings(conflicts)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type putNameRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (s *Server) handlePutSettingName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("n")
	var body putNameRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "body", "malformed request body"))
		return
	}
	major, minor, err := parseVersion(body.Version)
	if err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "version", "malformed version"))
		return
	}
	if err := s.Settings.PutName(r.Context(), name, body.Name, settings.Version{Major: major, Minor: minor}); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type putConfigurableFeaturesRequest struct {
	ConfigurableFeatures []string `json:"configurable_features"`
	Version              string   `json:"version"`
}

func (s *Server) handlePutSettingConfigurableFeatures(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("n")
	var body putConfigurableFeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "body", "malformed request body"))
		return
	}
	major, minor, err := parseVersion(body.Version)
	if err != nil {
		writeError(w, s.Logger, apperr.Validation("setting", name, "version", "malformed version"))
		return
	}
	conflicts, err := s.Settings.PutConfigurableFeatures(r.Context(), name, body.ConfigurableFeatures, settings.Version{Major: major, Minor: minor})
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if len(conflicts) > 0 {
		writeJSON(w, http.StatusConflict, conflictsResponse{Conflicts: conflictStrings(conflicts)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
