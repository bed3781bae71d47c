package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"docgate/internal/token"
)

// NominalExpiresIn is the lifetime advertised for gateway access tokens. The real
// upstream expiry is handled internally by refreshing.
const NominalExpiresIn = 30 * 24 * time.Hour

// opaquePrefix marks tokens minted by this gateway.
const opaquePrefix = "dg_"

// Upstream is the identity provider side of the relayed flow.
type Upstream interface {
	AuthCodeURL(state, redirectURI, scope string) string
	Exchange(ctx context.Context, code, redirectURI string) (token.UserTokenRecord, error)
}

// Grants stores and redeems the upstream material behind opaque tokens.
type Grants interface {
	KeyFor(userKey string) string
	StoreGrant(userKey string, rec token.UserTokenRecord) (string, error)
	FindByAlias(alias string) (string, token.UserTokenRecord, bool)
	RedeemRefresh(ctx context.Context, key string) (token.UserTokenRecord, error)
	Forget(key string) error
	Revoke(ctx context.Context, key string) (bool, error)
}

// GrantObserver is told about every token endpoint outcome.
type GrantObserver interface {
	GrantIssued(grantType string, err error)
}

// Config holds the externally visible settings of the gateway.
type Config struct {
	// PublicURL is the base URL used when the request carries no forwarding headers.
	PublicURL string

	// Provider names the upstream in the callback path.
	Provider string

	// CallbackPath overrides the default /oauth/<provider>/callback.
	CallbackPath string

	// Scopes are advertised in discovery and requested when the client names none.
	Scopes []string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the clock used for state timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithObserver sets the grant observer.
func WithObserver(o GrantObserver) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// Gateway serves the OAuth endpoints.
type Gateway struct {
	cfg      Config
	upstream Upstream
	grants   Grants
	observer GrantObserver
	now      func() time.Time

	// consumed remembers state blobs that already reached the callback.
	consumed *gocache.Cache
}

// New creates a gateway.
func New(cfg Config, up Upstream, grants Grants, opts ...Option) *Gateway {
	if cfg.Provider == "" {
		cfg.Provider = "docs"
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/oauth/" + cfg.Provider + "/callback"
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")

	g := &Gateway{
		cfg:      cfg,
		upstream: up,
		grants:   grants,
		now:      time.Now,
		consumed: gocache.New(StateTTL, time.Minute),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Routes mounts the gateway endpoints on r.
func (g *Gateway) Routes(r chi.Router) {
	r.Post("/register", g.handleRegister)
	r.Get("/authorize", g.handleAuthorize)
	r.Post("/authorize", g.handleAuthorize)
	r.Get(g.CallbackPath(), g.handleCallback)
	r.Post("/token", g.handleToken)
	r.Post("/revoke", g.handleRevoke)
	r.Get("/login", g.handleLogin)

	r.Get("/.well-known/oauth-authorization-server", g.handleAuthorizationServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", g.handleProtectedResourceMetadata)
	r.Get("/.well-known/oauth-protected-resource/*", g.handleProtectedResourceMetadata)
}

// CallbackPath returns the path of the upstream callback.
func (g *Gateway) CallbackPath() string {
	return g.cfg.CallbackPath
}

// BaseURL returns the externally visible base URL for r: forwarding headers first,
// then the configured public URL, then the request itself.
func (g *Gateway) BaseURL(r *http.Request) string {
	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))

	if host == "" && g.cfg.PublicURL != "" {
		return g.cfg.PublicURL
	}
	if host == "" {
		host = r.Host
	}
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	return proto + "://" + host
}

// ResourceMetadataURL is the protected resource metadata document for r, as
// advertised in WWW-Authenticate challenges.
func (g *Gateway) ResourceMetadataURL(r *http.Request) string {
	return g.BaseURL(r) + "/.well-known/oauth-protected-resource"
}

// AuthorizeURL is the gateway's own authorization endpoint for r.
func (g *Gateway) AuthorizeURL(r *http.Request) string {
	return g.BaseURL(r) + "/authorize"
}

// LoginURL is the browser login link for a caller identified only by userKey.
func LoginURL(baseURL, userKey string) string {
	return strings.TrimSuffix(baseURL, "/") + "/login?" + url.Values{"user_key": {userKey}}.Encode()
}

// callbackURL is the redirect_uri registered with the upstream. It prefers the
// configured public URL so that authorization and code exchange agree.
func (g *Gateway) callbackURL(r *http.Request) string {
	if g.cfg.PublicURL != "" {
		return g.cfg.PublicURL + g.cfg.CallbackPath
	}
	return g.BaseURL(r) + g.cfg.CallbackPath
}

func (g *Gateway) defaultScope() string {
	return strings.Join(g.cfg.Scopes, " ")
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
