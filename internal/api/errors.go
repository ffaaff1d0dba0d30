package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/nuki-gateway/internal/auth"
	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// Error codes carried in error bodies.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorMapping translates a domain error into a response. Message
// replaces err.Error() when set.
type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound, "device not found"},
	{state.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, "state not found"},
	{state.ErrNotWritable, http.StatusForbidden, ErrCodeForbidden, "state is read-only"},
	{state.ErrTypeMismatch, http.StatusBadRequest, ErrCodeValidation, ""},
	{state.ErrInvalidPath, http.StatusBadRequest, ErrCodeValidation, ""},
	{nuki.ErrUnknownAction, http.StatusBadRequest, ErrCodeValidation, ""},
	{auth.ErrForbidden, http.StatusForbidden, ErrCodeForbidden, "insufficient permissions"},
	{auth.ErrTokenInvalid, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeDomainError answers with the mapping for err, or a 500 carrying
// fallback when err is not a known domain error.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			writeError(w, m.status, m.code, msg)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, fallback)
}
