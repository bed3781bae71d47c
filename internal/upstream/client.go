package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"docgate/internal/token"
	"docgate/pkg/logging"
)

// DefaultHTTPTimeout bounds every upstream call.
const DefaultHTTPTimeout = 30 * time.Second

// tenantFetchAttempts is the number of tries for the tenant endpoint, including the first.
const tenantFetchAttempts = 3

// Config describes the upstream application and its endpoints.
type Config struct {
	AppID     string
	AppSecret string

	AuthorizeURL   string
	TokenURL       string
	TenantTokenURL string
	// RevokeURL is optional; revocation is skipped when empty.
	RevokeURL string

	// Scopes are requested when the caller does not name any.
	Scopes []string

	// HTTPClient defaults to a client with DefaultHTTPTimeout.
	HTTPClient *http.Client

	// RetryInterval is the initial backoff of tenant fetch retries. Zero uses
	// the backoff library default.
	RetryInterval time.Duration
}

// Client performs upstream token calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a client for the given configuration.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// AppID returns the configured application id.
func (c *Client) AppID() string {
	return c.cfg.AppID
}

// AppSecret returns the configured application secret.
func (c *Client) AppSecret() string {
	return c.cfg.AppSecret
}

func (c *Client) oauthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.AuthorizeURL,
			TokenURL:  c.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// withHTTPClient makes oauth2 use our client.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL builds the upstream authorization URL. An empty scope falls back to
// the configured scopes.
func (c *Client) AuthCodeURL(state, redirectURI, scope string) string {
	conf := c.oauthConfig(c.cfg.AppID, c.cfg.AppSecret, redirectURI)
	if scope != "" {
		conf.Scopes = strings.Fields(scope)
	}
	return conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for a user token record. redirectURI must be
// the one the code was issued for.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (token.UserTokenRecord, error) {
	conf := c.oauthConfig(c.cfg.AppID, c.cfg.AppSecret, redirectURI)

	tok, err := conf.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return token.UserTokenRecord{}, classify("code exchange", err)
	}

	rec := token.UserTokenRecord{
		ClientID:     c.cfg.AppID,
		ClientSecret: c.cfg.AppSecret,
	}
	c.apply(&rec, tok)

	logging.Debug("Upstream", "Exchanged authorization code (expires_at=%d, refresh_expires_at=%d)",
		rec.ExpiresAt, rec.RefreshExpiresAt)
	return rec, nil
}

// Refresh renews rec with its refresh token using the client credentials that issued
// it. The refresh token is rotated only when the provider returns a new one.
func (c *Client) Refresh(ctx context.Context, rec token.UserTokenRecord) (token.UserTokenRecord, error) {
	if !rec.HasRefreshMaterial() {
		return rec, fmt.Errorf("refresh: %w (record has no refresh material)", ErrInvalidGrant)
	}

	conf := c.oauthConfig(rec.ClientID, rec.ClientSecret, "")
	// An already-expired token forces the token source to refresh.
	src := conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{
		RefreshToken: rec.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})

	tok, err := src.Token()
	if err != nil {
		return rec, classify("refresh", err)
	}

	updated := rec
	c.apply(&updated, tok)
	if tok.RefreshToken == "" {
		updated.RefreshToken = rec.RefreshToken
	}

	logging.Debug("Upstream", "Refreshed user token (expires_at=%d, rotated=%t)",
		updated.ExpiresAt, updated.RefreshToken != rec.RefreshToken)
	return updated, nil
}

// apply copies token material from an oauth2 token into rec.
func (c *Client) apply(rec *token.UserTokenRecord, tok *oauth2.Token) {
	now := c.now()

	rec.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		rec.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		rec.ExpiresAt = tok.Expiry.Unix()
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		rec.Scope = scope
	}
	if secs := extraSeconds(tok.Extra("refresh_token_expires_in")); secs > 0 {
		rec.RefreshExpiresAt = now.Add(time.Duration(secs) * time.Second).Unix()
	} else if rec.RefreshToken != "" && rec.ExpiresAt > rec.RefreshExpiresAt {
		// Without an advertised refresh lifetime the record lives at least as long
		// as its newest access token.
		rec.RefreshExpiresAt = rec.ExpiresAt
	}
}

// extraSeconds reads a numeric token response extra, which may arrive as a JSON
// number or a string depending on the response encoding.
func extraSeconds(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// tenantTokenRequest is the body of the tenant token call.
type tenantTokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

// tenantTokenResponse is the envelope returned by the tenant token endpoint.
type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

// FetchTenantToken obtains an application-level token with client credentials.
// Network failures and 5xx responses are retried; a non-zero response code is final.
func (c *Client) FetchTenantToken(ctx context.Context) (token.TenantTokenRecord, error) {
	body, err := json.Marshal(tenantTokenRequest{AppID: c.cfg.AppID, AppSecret: c.cfg.AppSecret})
	if err != nil {
		return token.TenantTokenRecord{}, fmt.Errorf("failed to encode tenant token request: %w", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	if c.cfg.RetryInterval > 0 {
		expBackoff.InitialInterval = c.cfg.RetryInterval
		expBackoff.MaxInterval = 10 * c.cfg.RetryInterval
	}
	expBackoff.Reset()

	attempt := 0
	operation := func() (tenantTokenResponse, error) {
		attempt++
		resp, err := c.postTenant(ctx, body)
		if err != nil {
			logging.Warn("Upstream", "Tenant token request failed (attempt %d/%d): %v",
				attempt, tenantFetchAttempts, err)
		}
		return resp, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(tenantFetchAttempts),
		backoff.WithNotify(func(_ error, d time.Duration) {
			logging.Debug("Upstream", "Retrying tenant token request after %v", d)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return token.TenantTokenRecord{}, err
		}
		return token.TenantTokenRecord{}, &TransientError{Op: "tenant token fetch", Err: err}
	}

	rec := token.TenantTokenRecord{AppAccessToken: resp.TenantAccessToken}
	if resp.Expire > 0 {
		rec.ExpiresAt = c.now().Add(time.Duration(resp.Expire) * time.Second).Unix()
	}

	logging.Info("Upstream", "Fetched tenant token for app %s (expires in %ds)",
		logging.TruncateKey(c.cfg.AppID), resp.Expire)
	return rec, nil
}

// postTenant performs one tenant token call. Errors that must not be retried are
// wrapped with backoff.Permanent.
func (c *Client) postTenant(ctx context.Context, body []byte) (tenantTokenResponse, error) {
	var out tenantTokenResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TenantTokenURL, bytes.NewReader(body))
	if err != nil {
		return out, backoff.Permanent(fmt.Errorf("failed to create tenant token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("tenant token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("failed to read tenant token response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("tenant token endpoint returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, backoff.Permanent(fmt.Errorf("failed to parse tenant token response (status %d): %w", resp.StatusCode, err))
	}
	if out.Code != 0 || resp.StatusCode != http.StatusOK {
		logging.Debug("Upstream", "Tenant token rejected: status=%d code=%d msg=%s", resp.StatusCode, out.Code, out.Msg)
		return out, backoff.Permanent(fmt.Errorf("%w: code %d: %s", ErrInvalidCredentials, out.Code, out.Msg))
	}
	if out.TenantAccessToken == "" {
		return out, backoff.Permanent(errors.New("tenant token response carried no token"))
	}
	return out, nil
}

// Revoke asks the provider to revoke tok. It is a no-op without a revoke endpoint.
func (c *Client) Revoke(ctx context.Context, tok string) error {
	if c.cfg.RevokeURL == "" || tok == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", tok)
	form.Set("client_id", c.cfg.AppID)
	form.Set("client_secret", c.cfg.AppSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: "revoke", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned status %d", resp.StatusCode)
	}
	return nil
}
