package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cubbyd/cubby"
)

// ErrorResponse is the JSON body for error responses. Messages are opaque;
// internal paths and store detail never leak to the caller.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// HandleError writes a response for errors without an operation-specific
// mapping. Inconsistencies are logged loudly but surface as plain internal
// failures.
func HandleError(w http.ResponseWriter, err error) {
	slog.Error("request error", "error", err)

	if errors.Is(err, cubby.ErrInconsistent) {
		slog.Warn("content and metadata disagree", "error", err)
	}

	WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
