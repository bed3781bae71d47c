package token

import "time"

// DefaultCacheWindow is the cache lifetime of a user record that carries neither a
// refresh expiry nor an access expiry.
const DefaultCacheWindow = 2 * time.Hour

// UserTokenRecord is the upstream token material for one end user (or one
// gateway-issued opaque grant). All times are unix seconds.
type UserTokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// ClientID and ClientSecret are the upstream application credentials that
	// issued the token. A refresh must be performed with the same pair.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	ExpiresAt        int64 `json:"expires_at,omitempty"`
	RefreshExpiresAt int64 `json:"refresh_token_expires_at,omitempty"`

	// OpaqueAlias is the gateway-minted refresh handle handed to downstream
	// OAuth clients instead of the upstream refresh token.
	OpaqueAlias string `json:"opaque_alias,omitempty"`
}

// HasRefreshMaterial reports whether the record carries everything a refresh call needs.
func (r UserTokenRecord) HasRefreshMaterial() bool {
	return r.RefreshToken != "" && r.ClientID != "" && r.ClientSecret != ""
}

// CacheExpiry returns when the record should leave the cache: the refresh expiry when
// known, else the access expiry, else now plus DefaultCacheWindow.
func (r UserTokenRecord) CacheExpiry(now time.Time) time.Time {
	switch {
	case r.RefreshExpiresAt > 0:
		return time.Unix(r.RefreshExpiresAt, 0)
	case r.ExpiresAt > 0:
		return time.Unix(r.ExpiresAt, 0)
	default:
		return now.Add(DefaultCacheWindow)
	}
}

// RefreshLapsed reports whether the record can no longer be refreshed and its access
// token is of no further use. Records without a refresh token lapse with their access token.
func (r UserTokenRecord) RefreshLapsed(now time.Time) bool {
	return !r.CacheExpiry(now).After(now)
}

// TenantTokenRecord is an application-level token. It is never refreshed, only re-fetched.
type TenantTokenRecord struct {
	AppAccessToken string `json:"app_access_token"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
}

// CacheExpiry returns the access expiry, or now plus DefaultCacheWindow when unknown.
func (r TenantTokenRecord) CacheExpiry(now time.Time) time.Time {
	if r.ExpiresAt > 0 {
		return time.Unix(r.ExpiresAt, 0)
	}
	return now.Add(DefaultCacheWindow)
}
