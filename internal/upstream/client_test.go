package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docgate/internal/token"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		AppID:          "cli_app",
		AppSecret:      "app-secret",
		AuthorizeURL:   srv.URL + "/authorize",
		TokenURL:       srv.URL + "/token",
		TenantTokenURL: srv.URL + "/tenant",
		RevokeURL:      srv.URL + "/revoke",
		Scopes:         []string{"docs:read", "offline_access"},
		RetryInterval:  time.Millisecond,
	})
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAuthCodeURL(t *testing.T) {
	c, srv := newTestClient(t, http.NotFoundHandler())

	raw := c.AuthCodeURL("st4te", "https://gw.example.com/oauth/docs/callback", "")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	q := u.Query()
	assert.Equal(t, "cli_app", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "https://gw.example.com/oauth/docs/callback", q.Get("redirect_uri"))
	assert.Equal(t, "docs:read offline_access", q.Get("scope"))

	raw = c.AuthCodeURL("s", "https://gw.example.com/cb", "docs:write")
	u, err = url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "docs:write", u.Query().Get("scope"))
}

func TestExchange(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "https://gw.example.com/cb", r.PostForm.Get("redirect_uri"))
		assert.Equal(t, "cli_app", r.PostForm.Get("client_id"))
		assert.Equal(t, "app-secret", r.PostForm.Get("client_secret"))

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":             "u-access",
			"token_type":               "Bearer",
			"expires_in":               7200,
			"refresh_token":            "u-refresh",
			"refresh_token_expires_in": 604800,
			"scope":                    "docs:read",
		})
	}))

	rec, err := c.Exchange(context.Background(), "the-code", "https://gw.example.com/cb")
	require.NoError(t, err)

	assert.Equal(t, "u-access", rec.AccessToken)
	assert.Equal(t, "u-refresh", rec.RefreshToken)
	assert.Equal(t, "docs:read", rec.Scope)
	assert.Equal(t, "cli_app", rec.ClientID)
	assert.Equal(t, "app-secret", rec.ClientSecret)
	assert.Equal(t, int64(1_700_000_000+604800), rec.RefreshExpiresAt)
	assert.NotZero(t, rec.ExpiresAt)
}

func TestExchange_InvalidGrant(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "code already used",
		})
	}))

	_, err := c.Exchange(context.Background(), "used", "https://gw.example.com/cb")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.False(t, IsTransient(err))
}

func TestRefresh_RotatesAndKeeps(t *testing.T) {
	farFuture := time.Now().Add(30 * 24 * time.Hour).Unix()

	tests := []struct {
		name       string
		response   map[string]any
		oldRefExp  int64
		wantRefTok string
		// wantRefExp of 0 means the refresh expiry must follow the new access expiry.
		wantRefExp int64
	}{
		{
			name: "provider rotates refresh token",
			response: map[string]any{
				"access_token":             "new-access",
				"expires_in":               7200,
				"refresh_token":            "new-refresh",
				"refresh_token_expires_in": 3600,
			},
			oldRefExp:  1_700_099_999,
			wantRefTok: "new-refresh",
			wantRefExp: 1_700_000_000 + 3600,
		},
		{
			name: "provider keeps refresh token with a later expiry",
			response: map[string]any{
				"access_token": "new-access",
				"expires_in":   7200,
			},
			oldRefExp:  farFuture,
			wantRefTok: "old-refresh",
			wantRefExp: farFuture,
		},
		{
			name: "unadvertised lifetime follows the new access token",
			response: map[string]any{
				"access_token":  "new-access",
				"expires_in":    7200,
				"refresh_token": "new-refresh",
			},
			oldRefExp:  1_700_000_100,
			wantRefTok: "new-refresh",
		},
		{
			name: "kept refresh token outlives an earlier expiry",
			response: map[string]any{
				"access_token": "new-access",
				"expires_in":   7200,
			},
			oldRefExp:  1_700_000_100,
			wantRefTok: "old-refresh",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
				assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
				assert.Equal(t, "issuer-app", r.PostForm.Get("client_id"))
				assert.Equal(t, "issuer-secret", r.PostForm.Get("client_secret"))
				writeJSON(w, http.StatusOK, tt.response)
			}))

			old := token.UserTokenRecord{
				AccessToken:      "old-access",
				RefreshToken:     "old-refresh",
				ClientID:         "issuer-app",
				ClientSecret:     "issuer-secret",
				ExpiresAt:        1_700_000_100,
				RefreshExpiresAt: tt.oldRefExp,
				OpaqueAlias:      "dg_alias",
			}

			rec, err := c.Refresh(context.Background(), old)
			require.NoError(t, err)
			assert.Equal(t, "new-access", rec.AccessToken)
			assert.Equal(t, tt.wantRefTok, rec.RefreshToken)
			assert.Equal(t, "issuer-app", rec.ClientID)
			assert.Equal(t, "dg_alias", rec.OpaqueAlias)

			if tt.wantRefExp != 0 {
				assert.Equal(t, tt.wantRefExp, rec.RefreshExpiresAt)
				return
			}
			assert.Equal(t, rec.ExpiresAt, rec.RefreshExpiresAt)
			assert.Greater(t, rec.RefreshExpiresAt, old.RefreshExpiresAt)

			// The refreshed record stays refreshable while its access token is live.
			st := token.UserStatus(&rec, time.Unix(rec.ExpiresAt-60, 0))
			assert.True(t, st.IsValid)
			assert.False(t, rec.RefreshLapsed(time.Unix(rec.ExpiresAt-60, 0)))
		})
	}
}

func TestRefresh_Classification(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         map[string]any
		wantDefinite bool
	}{
		{"invalid_grant", http.StatusBadRequest, map[string]any{"error": "invalid_grant"}, true},
		{"unauthorized", http.StatusUnauthorized, map[string]any{"error": "invalid_client"}, true},
		{"server error", http.StatusBadGateway, map[string]any{"error": "temporarily_unavailable"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))

			_, err := c.Refresh(context.Background(), token.UserTokenRecord{
				RefreshToken: "r", ClientID: "a", ClientSecret: "s",
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantDefinite, errors.Is(err, ErrInvalidGrant))
			assert.Equal(t, !tt.wantDefinite, IsTransient(err))
		})
	}
}

func TestRefresh_NetworkFailureIsTransient(t *testing.T) {
	c, srv := newTestClient(t, http.NotFoundHandler())
	srv.Close()

	_, err := c.Refresh(context.Background(), token.UserTokenRecord{
		RefreshToken: "r", ClientID: "a", ClientSecret: "s",
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRefresh_MissingMaterial(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())

	_, err := c.Refresh(context.Background(), token.UserTokenRecord{RefreshToken: "r"})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestFetchTenantToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tenant", r.URL.Path)

		var body tenantTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cli_app", body.AppID)
		assert.Equal(t, "app-secret", body.AppSecret)

		writeJSON(w, http.StatusOK, map[string]any{
			"code":                0,
			"msg":                 "ok",
			"tenant_access_token": "t-123",
			"expire":              7200,
		})
	}))

	rec, err := c.FetchTenantToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t-123", rec.AppAccessToken)
	assert.Equal(t, int64(1_700_000_000+7200), rec.ExpiresAt)
}

func TestFetchTenantToken_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "tenant_access_token": "t", "expire": 60})
	}))

	rec, err := c.FetchTenantToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t", rec.AppAccessToken)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchTenantToken_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.FetchTenantToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(tenantFetchAttempts), calls.Load())
}

func TestFetchTenantToken_RejectedCredentialsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"code": 10014, "msg": "app secret invalid"})
	}))

	_, err := c.FetchTenantToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRevoke(t *testing.T) {
	var got url.Values
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.Revoke(context.Background(), "u-access"))
	assert.Equal(t, "u-access", got.Get("token"))
	assert.Equal(t, "cli_app", got.Get("client_id"))
}

func TestRevoke_NoEndpoint(t *testing.T) {
	c := NewClient(Config{AppID: "a", AppSecret: "s"})
	assert.NoError(t, c.Revoke(context.Background(), "tok"))
}
