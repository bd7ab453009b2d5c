package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rpattn/bulkorders/internal/lifecycle"
	"github.com/rpattn/bulkorders/internal/logging"
	"github.com/rpattn/bulkorders/internal/repository"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondError maps service errors to status codes and logs the unexpected ones.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var transitionErr *lifecycle.TransitionError
	switch {
	case errors.As(err, &transitionErr):
		status := http.StatusConflict
		if transitionErr.Code == lifecycle.CodeUnknownStatus {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, ErrorResponse{
			Error: transitionErr.Error(),
			Code:  transitionErr.Code,
			Details: map[string]any{
				"from": transitionErr.From,
				"to":   transitionErr.To,
			},
		})
	case errors.Is(err, lifecycle.ErrInvalidLocation):
		writeError(w, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "the record was modified concurrently, retry the request")
	default:
		logging.FromContext(r.Context()).Error("request error",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
