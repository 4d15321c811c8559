// Package httpapi implements Heksher's HTTP surface (spec.md §6) over
// net/http's ServeMux method+pattern routing, mapping internal/apperr's
// taxonomy onto status codes and guarding every non-doc/non-health
// route behind DOC_ONLY.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"heksher/internal/apperr"
	"heksher/internal/features"
	"heksher/internal/health"
	"heksher/internal/logging"
	"heksher/internal/query"
	"heksher/internal/rules"
	"heksher/internal/settings"
)

var docOnlyErr = apperr.DocOnly("this server is running in DOC_ONLY mode; only /api/docs and /api/health are available")

// Server wires every store/engine into a single http.Handler.
type Server struct {
	Features *features.Registry
	Rules    *rules.Store
	Settings *settings.Store
	Query    *query.Engine
	Health   *health.Sentinel
	Logger   *logging.Logger

	DocOnly        bool
	RequestTimeout time.Duration
}

// Handler builds the full route tree. DocOnly servers register only the
// health and docs routes and never touch Features/Rules/Settings/Query.
// Health is nil-safe: with no sentinel configured (main wires none in
// DOC_ONLY mode) the health handler reports 200 with an empty version.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/docs", s.handleDocs)

	if !s.DocOnly {
		mux.HandleFunc("GET /api/v1/query", s.handleQuery)
		mux.HandleFunc("POST /rules/query", s.handleLegacyQuery)

		mux.HandleFunc("GET /api/v1/context_features", s.handleListFeatures)
		mux.HandleFunc("POST /api/v1/context_features", s.handleAddFeature)
		mux.HandleFunc("GET /api/v1/context_features/{f}", s.handleGetFeature)
		mux.HandleFunc("DELETE /api/v1/context_features/{f}", s.handleDeleteFeature)
		mux.HandleFunc("PATCH /api/v1/context_features/{f}/index", s.handleMoveFeature)

		mux.HandleFunc("POST /api/v1/rules", s.handleCreateRule)
		mux.HandleFunc("GET /api/v1/rules/{id}", s.handleGetRule)
		mux.HandleFunc("DELETE /api/v1/rules/{id}", s.handleDeleteRule)
		mux.HandleFunc("GET /api/v1/rules/search", s.handleSearchRule)
		mux.HandleFunc("PUT /api/v1/rules/{id}/value", s.handleSetRuleValue)
		mux.HandleFunc("PATCH /api/v1/rules/{id}", s.handlePatchRule)
		mux.HandleFunc("GET /api/v1/rules/{id}/metadata", s.handleGetRuleMetadata)
		mux.HandleFunc("PUT /api/v1/rules/{id}/metadata", s.handleReplaceRuleMetadata)
		mux.HandleFunc("POST /api/v1/rules/{id}/metadata", s.handleMergeRuleMetadata)
		mux.HandleFunc("DELETE /api/v1/rules/{id}/metadata", s.handleClearRuleMetadata)
		mux.HandleFunc("GET /api/v1/rules/{id}/metadata/{key}", s.handleGetRuleMetadataKey)
		mux.HandleFunc("PUT /api/v1/rules/{id}/metadata/{key}", s.handleSetRuleMetadataKey)
		mux.HandleFunc("DELETE /api/v1/rules/{id}/metadata/{key}", s.handleDeleteRuleMetadataKey)

		mux.HandleFunc("POST /api/v1/settings/declare", s.handleDeclare)
		mux.HandleFunc("DELETE /api/v1/settings/{name}", s.handleDeleteSetting)
		mux.HandleFunc("GET /api/v1/settings/{name}", s.handleGetSetting)
		mux.HandleFunc("GET /api/v1/settings", s.handleListSettings)
		mux.HandleFunc("PUT /api/v1/settings/{n}/type", s.handlePutSettingType)
		mux.HandleFunc("PUT /api/v1/settings/{n}/name", s.handlePutSettingName)
		mux.HandleFunc("PUT /api/v1/settings/{n}/configurable_features", s.handlePutSettingConfigurableFeatures)
		mux.HandleFunc("GET /api/v1/settings/{n}/metadata", s.handleGetSettingMetadata)
		mux.HandleFunc("PUT /api/v1/settings/{n}/metadata", s.handleReplaceSettingMetadata)
		mux.HandleFunc("POST /api/v1/settings/{n}/metadata", s.handleMergeSettingMetadata)
		mux.HandleFunc("DELETE /api/v1/settings/{n}/metadata", s.handleClearSettingMetadata)
		mux.HandleFunc("GET /api/v1/settings/{n}/metadata/{key}", s.handleGetSettingMetadataKey)
		mux.HandleFunc("PUT /api/v1/settings/{n}/metadata/{key}", s.handleSetSettingMetadataKey)
		mux.HandleFunc("DELETE /api/v1/settings/{n}/metadata/{key}", s.handleDeleteSettingMetadataKey)
	}

	return s.withMiddleware(mux)
}

// withMiddleware applies the global per-request deadline (spec.md §5)
// and the DOC_ONLY guard (spec.md §6/§7) ahead of every route.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.DocOnly && !isDocOrHealth(r.URL.Path) {
			writeError(w, s.Logger, docOnlyErr)
			return
		}

		timeout := s.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.Logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func isDocOrHealth(path string) bool {
	return path == "/api/docs" || path == "/api/health"
}
