package gateway

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"docgate/pkg/logging"
)

// forbiddenRedirectSchemes can run content in the browser instead of reaching a client.
var forbiddenRedirectSchemes = []string{"javascript", "data", "vbscript", "file"}

// validRedirectURI accepts absolute URLs without a fragment (RFC 6749 section 3.1.2).
// Custom schemes of native clients are allowed.
func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Fragment != "" || strings.Contains(raw, "#") {
		return false
	}
	return !slices.Contains(forbiddenRedirectSchemes, strings.ToLower(u.Scheme))
}

// handleAuthorize starts an authorization: the caller's redirect target is packed
// into the state blob and the browser is sent to the upstream login.
func (g *Gateway) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid form data")
		return
	}

	redirectURI := strings.TrimSpace(r.Form.Get("redirect_uri"))
	if redirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "redirect_uri is required")
		return
	}
	if !validRedirectURI(redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "redirect_uri must be an absolute URL without fragment")
		return
	}
	if rt := r.Form.Get("response_type"); rt != "" && rt != "code" {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeUnsupportedResponse, "only response_type=code is supported")
		return
	}

	blob, err := encodeState(authState{
		RedirectURI: redirectURI,
		State:       r.Form.Get("state"),
		ClientID:    r.Form.Get("client_id"),
		Timestamp:   g.now().UnixMilli(),
	})
	if err != nil {
		logging.Error("Gateway", err, "Failed to encode authorization state")
		writeOAuthError(w, http.StatusInternalServerError, ErrCodeServerError, "failed to start authorization")
		return
	}

	scope := strings.TrimSpace(r.Form.Get("scope"))
	if scope == "" {
		scope = g.defaultScope()
	}

	target := g.upstream.AuthCodeURL(blob, g.callbackURL(r), scope)

	logging.Debug("Gateway", "Redirecting client %s to upstream authorization", r.Form.Get("client_id"))
	setSecurityHeaders(w)
	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback receives the upstream redirect and sends the browser back to the
// original caller with the code and the caller's own state.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawState := q.Get("state")

	st, stateErr := decodeState(rawState, g.now())

	if upstreamErr := q.Get("error"); upstreamErr != "" {
		logging.Warn("Gateway", "Upstream authorization failed: %s - %s", upstreamErr, q.Get("error_description"))
		if stateErr != nil {
			writeOAuthError(w, http.StatusBadRequest, upstreamErr, q.Get("error_description"))
			return
		}
		if st.UserKey != "" {
			renderLoginPage(w, http.StatusBadRequest, loginFailed(upstreamErr+": "+q.Get("error_description")))
			return
		}
		g.redirectBack(w, r, st, url.Values{
			"error":             {upstreamErr},
			"error_description": {q.Get("error_description")},
		})
		return
	}

	switch {
	case errors.Is(stateErr, errStateExpired):
		logging.Warn("Gateway", "Rejected callback with expired state")
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, errStateExpired.Error())
		return
	case stateErr != nil:
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid state parameter")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "code is required")
		return
	}

	if err := g.consumed.Add(rawState, struct{}{}, StateTTL); err != nil {
		logging.Warn("Gateway", "Rejected replayed authorization state for client %s", st.ClientID)
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "authorization state already used")
		return
	}

	if st.UserKey != "" {
		g.completeLogin(w, r, st.UserKey, code)
		return
	}

	logging.Info("Gateway", "Authorization callback completed for client %s", st.ClientID)
	g.redirectBack(w, r, st, url.Values{"code": {code}})
}

// redirectBack redirects to the caller's redirect_uri with params and its state.
func (g *Gateway) redirectBack(w http.ResponseWriter, r *http.Request, st authState, params url.Values) {
	target, err := url.Parse(st.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid redirect_uri in state")
		return
	}

	q := target.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	if st.State != "" {
		q.Set("state", st.State)
	}
	target.RawQuery = q.Encode()

	setSecurityHeaders(w)
	http.Redirect(w, r, target.String(), http.StatusFound)
}
