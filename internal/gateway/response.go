package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error codes surfaced to API clients.
const (
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeNotFound           = "NOT_FOUND"
)

type errorBody struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Path       string `json:"path,omitempty"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

// WriteJSON serializes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a gateway-generated error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorBody{Success: false, Code: code, Message: message})
}

// WriteNotFound writes the response for an unrouted path.
func WriteNotFound(w http.ResponseWriter, path string) {
	WriteJSON(w, http.StatusNotFound, errorBody{
		Success: false,
		Code:    CodeNotFound,
		Message: "no route matches the requested path",
		Path:    path,
	})
}

// WriteRetryError writes an error response carrying a retry hint in both
// the body and the Retry-After header.
func WriteRetryError(w http.ResponseWriter, status int, code, message string, retryAfterSeconds int64) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	}
	WriteJSON(w, status, errorBody{
		Success:    false,
		Code:       code,
		Message:    message,
		RetryAfter: retryAfterSeconds,
	})
}
