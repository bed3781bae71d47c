package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"docgate/internal/identity"
	"docgate/internal/token"
	"docgate/internal/tokenstore"
	"docgate/internal/upstream"
	"docgate/pkg/logging"
)

// Upstream is the part of the identity provider client the Provider needs.
type Upstream interface {
	AppID() string
	AppSecret() string
	FetchTenantToken(ctx context.Context) (token.TenantTokenRecord, error)
	Refresh(ctx context.Context, rec token.UserTokenRecord) (token.UserTokenRecord, error)
	Revoke(ctx context.Context, tok string) error
}

// Observer receives token lifecycle events.
type Observer interface {
	TokenServed(kind, source string)
	RefreshCompleted(outcome string)
	TenantFetched(err error)
	AuthRequired(kind string)
}

type nopObserver struct{}

func (nopObserver) TokenServed(string, string) {}
func (nopObserver) RefreshCompleted(string)    {}
func (nopObserver) TenantFetched(error)        {}
func (nopObserver) AuthRequired(string)        {}

// Token kinds and sources reported to the Observer.
const (
	KindUser   = "user"
	KindTenant = "tenant"

	SourceCache   = "cache"
	SourceRefresh = "refresh"
	SourceFetch   = "fetch"
)

// Outcome is the result of a refresh attempt on one key.
type Outcome int

const (
	// OutcomeNotNeeded means the record was fresh when the flight ran.
	OutcomeNotNeeded Outcome = iota
	// OutcomeRefreshed means new material was fetched and stored.
	OutcomeRefreshed
	// OutcomeSkipped means the record lacks refresh material and was left alone.
	OutcomeSkipped
	// OutcomeEvicted means the upstream rejected the refresh token and the record was removed.
	OutcomeEvicted
	// OutcomeFailed means a transient failure; the record was kept.
	OutcomeFailed
	// OutcomeMissing means no record exists under the key.
	OutcomeMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotNeeded:
		return "not_needed"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeEvicted:
		return "evicted"
	case OutcomeFailed:
		return "failed"
	case OutcomeMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// flightTimeout bounds one shared upstream call. Flights run detached from the
// caller that started them, since other callers may be waiting on the result.
const flightTimeout = 30 * time.Second

// Option configures a Provider.
type Option func(*Provider)

// WithTenantMode makes every request act as the application.
func WithTenantMode(enabled bool) Option {
	return func(p *Provider) {
		p.tenantMode = enabled
	}
}

// WithClock overrides the clock used for status decisions.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithObserver sets the lifecycle event receiver.
func WithObserver(o Observer) Option {
	return func(p *Provider) {
		if o != nil {
			p.observer = o
		}
	}
}

// Provider resolves access tokens for callers.
type Provider struct {
	upstream Upstream
	users    *tokenstore.Bucket[token.UserTokenRecord]
	tenants  *tokenstore.Bucket[token.TenantTokenRecord]

	tenantMode bool
	now        func() time.Time
	observer   Observer

	flights singleflight.Group
}

// New creates a provider over the given buckets.
func New(up Upstream, users *tokenstore.Bucket[token.UserTokenRecord], tenants *tokenstore.Bucket[token.TenantTokenRecord], opts ...Option) *Provider {
	p := &Provider{
		upstream: up,
		users:    users,
		tenants:  tenants,
		now:      time.Now,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TenantMode reports whether the provider serves tenant tokens for every caller.
func (p *Provider) TenantMode() bool {
	return p.tenantMode
}

// KeyFor returns the store key of userKey under the configured application.
func (p *Provider) KeyFor(userKey string) string {
	return token.ClientKey(p.upstream.AppID(), p.upstream.AppSecret(), userKey)
}

// Users returns the user record bucket.
func (p *Provider) Users() *tokenstore.Bucket[token.UserTokenRecord] {
	return p.users
}

// Token returns the access token for the identity carried by ctx. A token already
// resolved onto the identity is returned as is.
func (p *Provider) Token(ctx context.Context) (string, error) {
	id, _ := identity.FromContext(ctx)
	if id.ResolvedToken != "" {
		return id.ResolvedToken, nil
	}
	return p.UserToken(ctx, id.UserKey)
}

// UserToken returns a usable access token for userKey. In tenant mode userKey is
// ignored and the shared tenant token is returned.
func (p *Provider) UserToken(ctx context.Context, userKey string) (string, error) {
	if p.tenantMode {
		return p.TenantToken(ctx)
	}
	if userKey == "" {
		p.observer.AuthRequired(KindUser)
		return "", ErrAuthRequired
	}

	key := p.KeyFor(userKey)
	rec, ok := p.users.Get(key)
	if !ok {
		p.observer.AuthRequired(KindUser)
		return "", ErrAuthRequired
	}

	st := token.UserStatus(&rec, p.now())
	if st.IsValid && !st.ShouldRefresh {
		p.observer.TokenServed(KindUser, SourceCache)
		return rec.AccessToken, nil
	}

	if st.ShouldRefresh && st.CanRefresh {
		refreshed, outcome, err := p.refresh(ctx, key, false)
		switch {
		case errors.Is(err, ErrRefreshFailed):
			p.observer.AuthRequired(KindUser)
			return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
		case err != nil:
			return "", fmt.Errorf("failed to refresh token: %w", err)
		case outcome == OutcomeRefreshed || outcome == OutcomeNotNeeded:
			p.observer.TokenServed(KindUser, SourceRefresh)
			return refreshed.AccessToken, nil
		}
	}

	p.observer.AuthRequired(KindUser)
	return "", ErrAuthRequired
}

// TenantToken returns the application token, fetching a new one when the cached
// record is missing, expired, or inside the refresh window.
func (p *Provider) TenantToken(ctx context.Context) (string, error) {
	key := p.KeyFor("")

	if rec, ok := p.tenants.Get(key); ok {
		st := token.TenantStatus(&rec, p.now())
		if st.IsValid && !st.ShouldRefresh {
			p.observer.TokenServed(KindTenant, SourceCache)
			return rec.AppAccessToken, nil
		}
	}

	v, err, _ := p.flights.Do("tenant:"+key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		// another flight may have just stored a fresh record
		if rec, ok := p.tenants.Get(key); ok {
			st := token.TenantStatus(&rec, p.now())
			if st.IsValid && !st.ShouldRefresh {
				return rec, nil
			}
		}

		rec, err := p.upstream.FetchTenantToken(fctx)
		p.observer.TenantFetched(err)
		if err != nil {
			return nil, err
		}

		var ttl time.Duration
		if rec.ExpiresAt > 0 {
			ttl = time.Unix(rec.ExpiresAt, 0).Sub(p.now())
		}
		if err := p.tenants.Put(key, rec, ttl); err != nil {
			logging.Error("Provider", err, "Failed to cache tenant token")
		}
		return rec, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to obtain tenant token: %w", err)
	}

	p.observer.TokenServed(KindTenant, SourceFetch)
	return v.(token.TenantTokenRecord).AppAccessToken, nil
}

// Refresh refreshes the user record stored under key when its status calls for it:
// inside the refresh window, or expired with a live refresh token. The same path is
// used by on-demand lookups and the scheduler.
func (p *Provider) Refresh(ctx context.Context, key string) (Outcome, error) {
	_, outcome, err := p.refresh(ctx, key, false)
	return outcome, err
}

// RedeemRefresh refreshes the record under key and returns the new material. The
// record under key is updated as well. When another refresh of the same key is in
// flight or has just replaced the record, its result is returned instead of calling
// the upstream again.
func (p *Provider) RedeemRefresh(ctx context.Context, key string) (token.UserTokenRecord, error) {
	rec, outcome, err := p.refresh(ctx, key, true)
	if err != nil {
		return token.UserTokenRecord{}, err
	}
	switch outcome {
	case OutcomeRefreshed:
		return rec, nil
	case OutcomeNotNeeded:
		if token.UserStatus(&rec, p.now()).IsValid {
			return rec, nil
		}
		return token.UserTokenRecord{}, ErrAuthRequired
	case OutcomeSkipped:
		return token.UserTokenRecord{}, fmt.Errorf("%w: record has no refresh material", ErrRefreshFailed)
	default:
		return token.UserTokenRecord{}, ErrAuthRequired
	}
}

type flightResult struct {
	rec     token.UserTokenRecord
	outcome Outcome
}

// refresh runs at most one upstream refresh per key at a time, whichever path asks
// for it. force refreshes regardless of status unless the record changed since the
// caller looked at it.
func (p *Provider) refresh(ctx context.Context, key string, force bool) (token.UserTokenRecord, Outcome, error) {
	var seen string
	if force {
		if rec, ok := p.users.Get(key); ok {
			seen = rec.AccessToken
		}
	}

	v, err, shared := p.flights.Do("refresh:"+key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		rec, ok := p.users.Get(key)
		if !ok {
			return flightResult{outcome: OutcomeMissing}, nil
		}
		if !rec.HasRefreshMaterial() {
			logging.Info("Provider", "Skipping refresh of %s: record lacks refresh token or issuing client", logging.TruncateKey(key))
			return flightResult{rec: rec, outcome: OutcomeSkipped}, nil
		}

		if force && seen != "" && rec.AccessToken != seen {
			// refreshed by another flight since the caller looked
			return flightResult{rec: rec, outcome: OutcomeRefreshed}, nil
		}

		st := token.UserStatus(&rec, p.now())
		if !force && !(st.ShouldRefresh || (st.CanRefresh && st.IsExpired)) {
			return flightResult{rec: rec, outcome: OutcomeNotNeeded}, nil
		}

		updated, err := p.upstream.Refresh(fctx, rec)
		if err != nil {
			if errors.Is(err, upstream.ErrInvalidGrant) {
				sent := rec.RefreshToken
				removed, delErr := p.users.DeleteIf(key, func(cur token.UserTokenRecord) bool {
					return cur.RefreshToken == sent
				})
				switch {
				case delErr != nil:
					logging.Error("Provider", delErr, "Failed to evict %s after rejected refresh", logging.TruncateKey(key))
				case removed:
					logging.Warn("Provider", "Refresh token for %s rejected, record evicted", logging.TruncateKey(key))
				default:
					logging.Info("Provider", "Refresh token for %s rejected but the record was replaced meanwhile, keeping it", logging.TruncateKey(key))
					return flightResult{rec: rec, outcome: OutcomeFailed}, fmt.Errorf("stale refresh token: %w", err)
				}
				return flightResult{outcome: OutcomeEvicted}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
			}
			return flightResult{rec: rec, outcome: OutcomeFailed}, err
		}

		if err := p.users.Put(key, updated, 0); err != nil {
			return flightResult{rec: rec, outcome: OutcomeFailed}, fmt.Errorf("failed to store refreshed token: %w", err)
		}
		logging.Info("Provider", "Refreshed token for %s", logging.TruncateKey(key))
		return flightResult{rec: updated, outcome: OutcomeRefreshed}, nil
	})

	res, _ := v.(flightResult)
	if !shared {
		p.observer.RefreshCompleted(res.outcome.String())
	}
	return res.rec, res.outcome, err
}

// StoreGrant stores upstream material for userKey and returns its store key.
func (p *Provider) StoreGrant(userKey string, rec token.UserTokenRecord) (string, error) {
	key := p.KeyFor(userKey)
	if err := p.users.Put(key, rec, 0); err != nil {
		return "", fmt.Errorf("failed to store grant: %w", err)
	}
	return key, nil
}

// FindByAlias returns the store key and record whose opaque refresh handle is alias.
func (p *Provider) FindByAlias(alias string) (string, token.UserTokenRecord, bool) {
	if alias == "" {
		return "", token.UserTokenRecord{}, false
	}
	return p.users.Find(func(rec token.UserTokenRecord) bool {
		return rec.OpaqueAlias == alias
	})
}

// Forget removes the record under key without contacting the upstream.
func (p *Provider) Forget(key string) error {
	_, err := p.users.Delete(key)
	return err
}

// Revoke evicts the record under key and asks the upstream to revoke its access
// token. Upstream failures are logged and not returned.
func (p *Provider) Revoke(ctx context.Context, key string) (bool, error) {
	rec, ok := p.users.Get(key)
	removed, err := p.users.Delete(key)
	if err != nil {
		return removed, fmt.Errorf("failed to evict %s: %w", logging.TruncateKey(key), err)
	}
	if ok {
		if err := p.upstream.Revoke(ctx, rec.AccessToken); err != nil {
			logging.Warn("Provider", "Upstream revocation for %s failed: %v", logging.TruncateKey(key), err)
		}
	}
	return removed, nil
}
