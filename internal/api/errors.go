package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conneradamsmaine/playgroundd/internal/playset"
	"github.com/conneradamsmaine/playgroundd/internal/session"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

// Error codes returned in API responses
const (
	ErrCodePlaygroundDisabled = "PLAYGROUND_DISABLED"
	ErrCodePlaysetNotFound    = "PLAYSET_NOT_FOUND"
	ErrCodePlaysetDisabled    = "PLAYSET_DISABLED"
	ErrCodeAtCapacity         = "AT_CAPACITY"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeSessionFailed      = "SESSION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbiddenOrigin    = "FORBIDDEN_ORIGIN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// APIError is the structured error body of every non-2xx response.
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeAPIError maps known runtime errors to structured responses.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, session.ErrPlaygroundDisabled):
		apiErr = APIError{Code: ErrCodePlaygroundDisabled, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, playset.ErrNotFound), errors.Is(err, store.ErrNotFound):
		apiErr = APIError{Code: ErrCodePlaysetNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	case errors.Is(err, playset.ErrDisabled):
		apiErr = APIError{Code: ErrCodePlaysetDisabled, Message: err.Error()}
		statusCode = http.StatusForbidden

	case errors.Is(err, session.ErrAtCapacity):
		apiErr = APIError{Code: ErrCodeAtCapacity, Message: err.Error()}
		statusCode = http.StatusTooManyRequests

	default:
		apiErr = APIError{Code: ErrCodeInternalError, Message: err.Error()}
	}

	writeJSON(w, statusCode, apiErr)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
	})
}

func writeRateLimited(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusTooManyRequests, APIError{
		Code:    ErrCodeRateLimited,
		Message: message,
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
