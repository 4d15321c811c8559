package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"heksher/internal/apperr"
	"heksher/internal/query"
)

// handleQuery implements GET /api/v1/query (spec.md §4.5): the
// ETag-authoritative form. A matching If-None-Match short-circuits to
// 304 with no body.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	result, err := s.Query.Run(r.Context(), req)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	w.Header().Set("ETag", result.ETag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == result.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLegacyQuery implements the deprecated POST /rules/query
// compatibility wrapper (spec.md §9): body-based, with a legacy
// cache_time field that is validated as RFC3339 but does not filter the
// result: the full result is always returned with its ETag. The GET
// /query ETag form is authoritative; this wrapper
// exists only for callers that haven't migrated.
//
// Deprecated: use GET /api/v1/query.
func (s *Server) handleLegacyQuery(w http.ResponseWriter, r *http.Request) {
	var body legacyQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.Logger, apperr.Validation("query", "", "body", "malformed request body"))
		return
	}

	cf, err := contextFiltersFromValue(body.ContextFilters)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	req := query.Request{
		Settings:        body.Settings,
		ContextFilters:  cf,
		IncludeMetadata: body.IncludeMetadata,
	}
	result, err := s.Query.Run(r.Context(), req)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	if body.CacheTime != "" {
		if _, err := time.Parse(time.RFC3339, body.CacheTime); err != nil {
			writeError(w, s.Logger, apperr.Validation("query", "", "cache_time", "malformed cache_time"))
			return
		}
		// The legacy contract returns only settings changed since
		// cache_time; ETag has no per-setting timestamp to compare
		// against, so a full unfiltered result is returned rather
		// than guessing at staleness per setting.
	}

	w.Header().Set("ETag", result.ETag)
	writeJSON(w, http.StatusOK, result)
}

type legacyQueryRequest struct {
	Settings        []string        `json:"settings"`
	ContextFilters  json.RawMessage `json:"context_filters"`
	IncludeMetadata bool            `json:"include_metadata"`
	CacheTime       string          `json:"cache_time"`
}

func parseQueryRequest(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	var settings []string
	if raw := q.Get("settings"); raw != "" {
		settings = strings.Split(raw, ",")
	}
	cf, err := parseContextFiltersParam(q.Get("context_filters"))
	if err != nil {
		return query.Request{}, err
	}
	return query.Request{
		Settings:        settings,
		ContextFilters:  cf,
		IncludeMetadata: q.Get("include_metadata") == "true",
	}, nil
}

// parseContextFiltersParam parses the query-string form of
// context_filters: either the literal "*" or
// "feature:(v1,v2),feature2:*,...".
func parseContextFiltersParam(raw string) (query.ContextFilters, error) {
	if raw == "" || raw == "*" {
		return query.ContextFilters{Wildcard: true}, nil
	}
	return parseContextFiltersParenAware(raw, query.ContextFilters{Features: map[string]query.FeatureFilter{}})
}

// parseContextFiltersParenAware re-splits raw on commas that are not
// inside a "(...)" value list, since a naive strings.Split(",") would
// break "account:(john,jim)" apart.
func parseContextFiltersParenAware(raw string, out query.ContextFilters) (query.ContextFilters, error) {
	var entries []string
	depth := 0
	start := 0
	for i, c := range raw {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				entries = append(entries, raw[start:i])
				start = i + 1
			}
		}
	}
	entries = append(entries, raw[start:])

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return query.ContextFilters{}, apperr.Validation("query", "", "context_filters", "malformed context_filters entry "+entry)
		}
		feature, valuePart := parts[0], parts[1]
		if valuePart == "*" {
			out.Features[feature] = query.FeatureFilter{Wildcard: true}
			continue
		}
		valuePart = strings.TrimPrefix(valuePart, "(")
		valuePart = strings.TrimSuffix(valuePart, ")")
		values := map[string]bool{}
		for _, v := range strings.Split(valuePart, ",") {
			if v != "" {
				values[v] = true
			}
		}
		out.Features[feature] = query.FeatureFilter{Values: values}
	}
	return out, nil
}

// contextFiltersFromValue parses the legacy POST body's context_filters
// JSON value, which is either the string "*" or an object mapping
// feature names to either "*" or an array of values.
func contextFiltersFromValue(raw json.RawMessage) (query.ContextFilters, error) {
	if len(raw) == 0 {
		return query.ContextFilters{Wildcard: true}, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "*" {
			return query.ContextFilters{Wildcard: true}, nil
		}
		return query.ContextFilters{}, apperr.Validation("query", "", "context_filters", "string context_filters must be \"*\"")
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return query.ContextFilters{}, apperr.Validation("query", "", "context_filters", "context_filters must be \"*\" or an object")
	}
	out := query.ContextFilters{Features: map[string]query.FeatureFilter{}}
	for feature, v := range asMap {
		var wildcard string
		if err := json.Unmarshal(v, &wildcard); err == nil {
			if wildcard != "*" {
				return query.ContextFilters{}, apperr.Validation("query", "", "context_filters", "per-feature string filter must be \"*\"")
			}
			out.Features[feature] = query.FeatureFilter{Wildcard: true}
			continue
		}
		var values []string
		if err := json.Unmarshal(v, &values); err != nil {
			return query.ContextFilters{}, apperr.Validation("query", "", "context_filters", "per-feature filter must be \"*\" or an array of values")
		}
		set := make(map[string]bool, len(values))
		for _, val := range values {
			set[val] = true
		}
		out.Features[feature] = query.FeatureFilter{Values: set}
	}
	return out, nil
}
