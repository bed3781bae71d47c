package gateway

import (
	"encoding/json"
	"net/http"
)

// OAuth error codes returned by the gateway.
const (
	ErrCodeInvalidRequest        = "invalid_request"
	ErrCodeInvalidGrant          = "invalid_grant"
	ErrCodeInvalidClientMetadata = "invalid_client_metadata"
	ErrCodeUnsupportedGrantType  = "unsupported_grant_type"
	ErrCodeUnsupportedResponse   = "unsupported_response_type"
	ErrCodeServerError           = "server_error"
)

// oauthError is the RFC 6749 error response body.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, status, oauthError{Code: code, Description: description})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setSecurityHeaders sets headers for responses that pass through a browser.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}
