package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// WriteJSON writes v as JSON with the given status. Responses are never
// cacheable since most of them carry tokens.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// Error codes, mostly from RFC 6749 and RFC 6750.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidToken         = "invalid_token"
	CodeInsufficientScope    = "insufficient_scope"
	CodeRateLimited          = "rate_limit_exceeded"
	CodeUnavailable          = "temporarily_unavailable"
	CodeServerError          = "server_error"
	CodeUnsupportedMediaType = "unsupported_media_type"
)

// Error is an API error rendered as {"error":..,"error_description":..}.
type Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func NewError(status int, code, description string) *Error {
	return &Error{StatusCode: status, Code: code, Description: description}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Write(w http.ResponseWriter) {
	WriteJSON(w, e.StatusCode, e)
}

var (
	ErrInvalidRequest    = NewError(http.StatusBadRequest, CodeInvalidRequest, "the request is malformed or missing required parameters")
	ErrInvalidGrant      = NewError(http.StatusUnauthorized, CodeInvalidGrant, "refresh token is invalid, expired or revoked")
	ErrInvalidToken      = NewError(http.StatusUnauthorized, CodeInvalidToken, "the access token is missing, invalid, expired or revoked")
	ErrInsufficientScope = NewError(http.StatusForbidden, CodeInsufficientScope, "the access token lacks the required permission")
	ErrUnavailable       = NewError(http.StatusServiceUnavailable, CodeUnavailable, "a backing service is unavailable")
	ErrServerError       = NewError(http.StatusInternalServerError, CodeServerError, "internal server error")
)

// WriteError writes err as an API error. Anything that isn't an *Error is
// reported as a 500 without leaking its text.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		apiErr.Write(w)
		return
	}
	ErrServerError.Write(w)
}
