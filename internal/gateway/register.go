package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"docgate/internal/token"
	"docgate/pkg/logging"
)

// registrationRequest is the subset of RFC 7591 client metadata the gateway reads.
type registrationRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
}

type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

// handleRegister performs dynamic client registration. Registered clients are not
// stored; the gateway authenticates users, not clients.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	body := http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidClientMetadata, "request body must be JSON client metadata")
		return
	}
	for _, ru := range req.RedirectURIs {
		if !validRedirectURI(ru) {
			writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidClientMetadata, "redirect_uris must be absolute URLs without fragment")
			return
		}
	}

	secret, err := token.NewOpaqueToken("")
	if err != nil {
		logging.Error("Gateway", err, "Failed to generate client secret")
		writeOAuthError(w, http.StatusInternalServerError, ErrCodeServerError, "registration failed")
		return
	}

	resp := registrationResponse{
		ClientID:                uuid.NewString(),
		ClientSecret:            secret,
		ClientIDIssuedAt:        g.now().Unix(),
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_post",
		Scope:                   g.defaultScope(),
	}

	logging.Info("Gateway", "Registered client %s (%s)", resp.ClientID, req.ClientName)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, resp)
}
