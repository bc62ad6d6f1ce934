package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/allabud/auction-backend/internal/domain/errors"
)

// Envelope wraps every API response: {success, data} on the happy path,
// {success:false, error} otherwise.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the wire shape of a failure.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func respondData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// respondError renders a typed domain error; anything untyped becomes an
// opaque 500 so internals never leak.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		logger.Error("unhandled error", "error", err)
		appErr = errors.NewInternalError("internal server error")
	}
	writeJSON(w, appErr.StatusCode, Envelope{
		Success: false,
		Error: &ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
