package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"docgate/internal/provider"
	"docgate/internal/token"
	"docgate/internal/upstream"
	"docgate/pkg/logging"
)

// tokenResponse is the RFC 6749 access token response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken serves both supported grants. Downstream clients only ever see
// gateway-minted opaque tokens.
func (g *Gateway) handleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid form data")
		return
	}

	grantType := strings.TrimSpace(r.PostForm.Get("grant_type"))

	var (
		resp *tokenResponse
		err  error
	)
	switch grantType {
	case "authorization_code":
		resp, err = g.exchangeCode(r)
	case "refresh_token":
		resp, err = g.refreshGrant(r)
	default:
		writeOAuthError(w, http.StatusBadRequest, ErrCodeUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
		return
	}

	if g.observer != nil {
		g.observer.GrantIssued(grantType, err)
	}
	if err != nil {
		g.writeGrantError(w, grantType, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// grantError is a token endpoint failure with its OAuth code.
type grantError struct {
	code        string
	description string
	err         error
}

func (e *grantError) Error() string {
	if e.err != nil {
		return e.description + ": " + e.err.Error()
	}
	return e.description
}

func (e *grantError) Unwrap() error {
	return e.err
}

func (g *Gateway) writeGrantError(w http.ResponseWriter, grantType string, err error) {
	var ge *grantError
	if errors.As(err, &ge) && ge.code != ErrCodeServerError {
		logging.Debug("Gateway", "Token request (%s) rejected: %v", grantType, err)
		writeOAuthError(w, http.StatusBadRequest, ge.code, ge.description)
		return
	}
	logging.Error("Gateway", err, "Token request (%s) failed", grantType)
	writeOAuthError(w, http.StatusInternalServerError, ErrCodeServerError, "token request failed")
}

func (g *Gateway) exchangeCode(r *http.Request) (*tokenResponse, error) {
	code := strings.TrimSpace(r.PostForm.Get("code"))
	if code == "" {
		return nil, &grantError{code: ErrCodeInvalidRequest, description: "code is required"}
	}

	rec, err := g.upstream.Exchange(r.Context(), code, g.callbackURL(r))
	if err != nil {
		if errors.Is(err, upstream.ErrInvalidGrant) {
			return nil, &grantError{code: ErrCodeInvalidGrant, description: "authorization code rejected", err: err}
		}
		return nil, &grantError{code: ErrCodeServerError, description: "code exchange failed", err: err}
	}

	resp, err := g.mint(rec)
	if err != nil {
		return nil, err
	}
	logging.Info("Gateway", "Issued gateway token %s for client %s",
		logging.TruncateKey(resp.AccessToken), r.PostForm.Get("client_id"))
	return resp, nil
}

func (g *Gateway) refreshGrant(r *http.Request) (*tokenResponse, error) {
	presented := strings.TrimSpace(r.PostForm.Get("refresh_token"))
	if presented == "" {
		return nil, &grantError{code: ErrCodeInvalidRequest, description: "refresh_token is required"}
	}

	oldKey, _, ok := g.grants.FindByAlias(presented)
	if !ok {
		return nil, &grantError{code: ErrCodeInvalidGrant, description: "unknown refresh token"}
	}

	rec, err := g.grants.RedeemRefresh(r.Context(), oldKey)
	if err != nil {
		if errors.Is(err, provider.ErrRefreshFailed) || errors.Is(err, provider.ErrAuthRequired) {
			return nil, &grantError{code: ErrCodeInvalidGrant, description: "refresh token rejected", err: err}
		}
		return nil, &grantError{code: ErrCodeServerError, description: "refresh failed", err: err}
	}

	resp, err := g.mint(rec)
	if err != nil {
		return nil, err
	}
	if err := g.grants.Forget(oldKey); err != nil {
		logging.Warn("Gateway", "Failed to drop rotated grant %s: %v", logging.TruncateKey(oldKey), err)
	}

	logging.Info("Gateway", "Rotated gateway token to %s", logging.TruncateKey(resp.AccessToken))
	return resp, nil
}

// mint issues a new opaque access token and refresh handle for rec and stores rec
// under the access token's ClientKey.
func (g *Gateway) mint(rec token.UserTokenRecord) (*tokenResponse, error) {
	access, err := token.NewOpaqueToken(opaquePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}
	refresh, err := token.NewOpaqueToken(opaquePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to mint refresh token: %w", err)
	}

	rec.OpaqueAlias = refresh
	if _, err := g.grants.StoreGrant(access, rec); err != nil {
		return nil, err
	}

	return &tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(NominalExpiresIn.Seconds()),
		RefreshToken: refresh,
		Scope:        rec.Scope,
	}, nil
}

// handleRevoke implements RFC 7009. Unknown tokens are not an error.
func (g *Gateway) handleRevoke(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid form data")
		return
	}

	presented := strings.TrimSpace(r.PostForm.Get("token"))
	if presented == "" {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "token is required")
		return
	}

	key, _, ok := g.grants.FindByAlias(presented)
	if !ok {
		key = g.grants.KeyFor(presented)
	}

	removed, err := g.grants.Revoke(r.Context(), key)
	if err != nil {
		logging.Error("Gateway", err, "Failed to revoke gateway token")
		writeOAuthError(w, http.StatusInternalServerError, ErrCodeServerError, "revocation failed")
		return
	}
	if removed {
		logging.Info("Gateway", "Revoked gateway grant %s", logging.TruncateKey(key))
	}
	w.WriteHeader(http.StatusOK)
}
