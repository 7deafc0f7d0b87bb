// Package httpx provides JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Error categories carried in the "error" field of failure envelopes.
const (
	CategoryUnauthenticated = "unauthenticated"
	CategoryForbidden       = "forbidden"
	CategoryInternal        = "internal_error"
	CategoryNotFound        = "not_found"
	CategoryValidation      = "validation_error"
	CategoryConflict        = "conflict"
)

// Envelope is the response body shape used by every JSON endpoint.
type Envelope struct {
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	Required string `json:"required,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK wraps data in a success envelope.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Success: true, Data: data})
}

// Fail writes a failure envelope.
func Fail(w http.ResponseWriter, status int, category, message string) {
	JSON(w, status, Envelope{Success: false, Error: category, Message: message})
}

// Reject writes a failure envelope that discloses the required permission(s).
func Reject(w http.ResponseWriter, status int, category, message, required string) {
	JSON(w, status, Envelope{Success: false, Error: category, Message: message, Required: required})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
