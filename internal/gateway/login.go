package gateway

import (
	"html/template"
	"net/http"
	"strings"

	"docgate/pkg/logging"
)

// Browser login for clients that cannot run an OAuth flow themselves. The caller
// is identified by a user key chosen up front; the callback exchanges the code
// here and stores the grant under that key.

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{ .Title }} - docgate</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #16213e; color: #e8e8e8; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
        .container { text-align: center; padding: 3rem; background: rgba(255, 255, 255, 0.05); border-radius: 16px; max-width: 500px; }
        .ok { color: #00d4aa; }
        .failed { color: #ff6b6b; }
        p { color: #a0a0a0; line-height: 1.6; }
    </style>
</head>
<body>
    <div class="container">
        <h1 class="{{ if .OK }}ok{{ else }}failed{{ end }}">{{ .Title }}</h1>
        <p>{{ .Message }}</p>
        <p>{{ .Hint }}</p>
    </div>
</body>
</html>`))

type loginResult struct {
	OK      bool
	Title   string
	Message string
	Hint    string
}

func loginSucceeded() loginResult {
	return loginResult{
		OK:      true,
		Title:   "Authentication Successful",
		Message: "Your document account is now connected.",
		Hint:    "You can close this window and retry the previous request.",
	}
}

func loginFailed(msg string) loginResult {
	return loginResult{
		Title:   "Authentication Failed",
		Message: msg,
		Hint:    "Return to your editor and request a new link.",
	}
}

func renderLoginPage(w http.ResponseWriter, status int, res loginResult) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPage.Execute(w, res); err != nil {
		logging.Error("Gateway", err, "Failed to render login page")
	}
}

// handleLogin starts a browser login for ?user_key=.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	userKey := strings.TrimSpace(r.URL.Query().Get("user_key"))
	if userKey == "" {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "user_key is required")
		return
	}

	blob, err := encodeState(authState{
		UserKey:   userKey,
		Timestamp: g.now().UnixMilli(),
	})
	if err != nil {
		logging.Error("Gateway", err, "Failed to encode login state")
		writeOAuthError(w, http.StatusInternalServerError, ErrCodeServerError, "failed to start login")
		return
	}

	logging.Debug("Gateway", "Redirecting user %s to upstream login", logging.TruncateKey(userKey))
	setSecurityHeaders(w)
	http.Redirect(w, r, g.upstream.AuthCodeURL(blob, g.callbackURL(r), g.defaultScope()), http.StatusFound)
}

// completeLogin finishes a browser login by exchanging code and storing the grant
// under userKey.
func (g *Gateway) completeLogin(w http.ResponseWriter, r *http.Request, userKey, code string) {
	rec, err := g.upstream.Exchange(r.Context(), code, g.callbackURL(r))
	if err != nil {
		logging.Warn("Gateway", "Login code exchange failed for user %s: %v", logging.TruncateKey(userKey), err)
		renderLoginPage(w, http.StatusBadGateway, loginFailed("The authorization code could not be exchanged."))
		return
	}

	if _, err := g.grants.StoreGrant(userKey, rec); err != nil {
		logging.Error("Gateway", err, "Failed to store login grant")
		renderLoginPage(w, http.StatusInternalServerError, loginFailed("The grant could not be stored."))
		return
	}

	logging.Info("Gateway", "Browser login completed for user %s", logging.TruncateKey(userKey))
	renderLoginPage(w, http.StatusOK, loginSucceeded())
}
