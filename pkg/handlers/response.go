package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// mapError translates the shared error taxonomy into an HTTP status and
// error code. Unrecognized errors become a 500.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrJobAlreadyActive):
		return http.StatusConflict, "job_already_active"
	case errors.Is(err, apperrors.ErrNoPriorVersion):
		return http.StatusUnprocessableEntity, "no_prior_version"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
