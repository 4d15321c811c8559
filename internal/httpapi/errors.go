package httpapi

import (
	"encoding/json"
	"net/http"

	"heksher/internal/apperr"
	"heksher/internal/logging"
)

// errorResponse is the JSON body shape for every non-2xx response.
type errorResponse struct {
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// writeError maps err onto spec.md §7's status-code taxonomy via
// internal/apperr and writes the JSON error body. Any error that isn't
// a classified *apperr.Error is treated as fatal (500) and logged,
// since it represents an invariant violation the caller didn't expect.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		logger.Error("unclassified error reached the http layer", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal error"})
		return
	}

	status := statusFor(appErr.Kind)
	if status == http.StatusInternalServerError {
		logger.Error("fatal error", "entity", appErr.Entity, "name", appErr.Name, "message", appErr.Message, "err", appErr.Err)
	}
	writeJSON(w, status, errorResponse{Message: appErr.Error(), Details: appErr.Details})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindDocOnly, apperr.KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
