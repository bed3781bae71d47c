package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docgate/internal/identity"
	"docgate/internal/token"
	"docgate/internal/tokenstore"
	"docgate/internal/upstream"
)

var testNow = time.Unix(1_700_000_000, 0)

type fakeUpstream struct {
	refreshCalls atomic.Int32
	tenantCalls  atomic.Int32
	revoked      []string
	mu           sync.Mutex

	refreshDelay time.Duration
	refreshErr   error
	tenantErr    error
}

func (f *fakeUpstream) AppID() string     { return "cli_app" }
func (f *fakeUpstream) AppSecret() string { return "app-secret" }

func (f *fakeUpstream) FetchTenantToken(ctx context.Context) (token.TenantTokenRecord, error) {
	n := f.tenantCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return token.TenantTokenRecord{}, &upstream.TransientError{Op: "tenant token", Err: err}
	}
	if f.tenantErr != nil {
		return token.TenantTokenRecord{}, f.tenantErr
	}
	return token.TenantTokenRecord{
		AppAccessToken: "tenant-" + string(rune('0'+n)),
		ExpiresAt:      testNow.Unix() + 7200,
	}, nil
}

func (f *fakeUpstream) Refresh(ctx context.Context, rec token.UserTokenRecord) (token.UserTokenRecord, error) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if err := ctx.Err(); err != nil {
		return rec, &upstream.TransientError{Op: "refresh", Err: err}
	}
	if f.refreshErr != nil {
		return rec, f.refreshErr
	}
	rec.AccessToken = "refreshed-access"
	rec.ExpiresAt = testNow.Unix() + 7200
	return rec, nil
}

func (f *fakeUpstream) Revoke(_ context.Context, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, tok)
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	required int
}

func (o *recordingObserver) TokenServed(string, string) {}
func (o *recordingObserver) TenantFetched(error)        {}

func (o *recordingObserver) RefreshCompleted(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) AuthRequired(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.required++
}

func newTestProvider(t *testing.T, up *fakeUpstream, opts ...Option) *Provider {
	t.Helper()
	clock := func() time.Time { return testNow }

	s, err := tokenstore.New("", tokenstore.WithClock(clock))
	require.NoError(t, err)
	users, err := tokenstore.NewUserBucket(s)
	require.NoError(t, err)
	tenants, err := tokenstore.NewTenantBucket(s)
	require.NoError(t, err)

	opts = append([]Option{WithClock(clock)}, opts...)
	return New(up, users, tenants, opts...)
}

func refreshable(expiresIn int64) token.UserTokenRecord {
	return token.UserTokenRecord{
		AccessToken:      "cached-access",
		RefreshToken:     "refresh",
		ClientID:         "cli_app",
		ClientSecret:     "app-secret",
		ExpiresAt:        testNow.Unix() + expiresIn,
		RefreshExpiresAt: testNow.Unix() + 86400,
	}
}

func TestUserToken_ServesFreshCache(t *testing.T) {
	up := &fakeUpstream{}
	p := newTestProvider(t, up)

	_, err := p.StoreGrant("alice", refreshable(3600))
	require.NoError(t, err)

	tok, err := p.UserToken(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "cached-access", tok)
	assert.Equal(t, int32(0), up.refreshCalls.Load())
}

func TestUserToken_RefreshesInsideWindow(t *testing.T) {
	up := &fakeUpstream{}
	p := newTestProvider(t, up)

	key, err := p.StoreGrant("alice", refreshable(200))
	require.NoError(t, err)

	tok, err := p.UserToken(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", tok)
	assert.Equal(t, int32(1), up.refreshCalls.Load())

	rec, ok := p.Users().Get(key)
	require.True(t, ok)
	assert.Equal(t, "refreshed-access", rec.AccessToken)
}

func TestUserToken_AuthRequired(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *Provider)
		user  string
	}{
		{
			name:  "anonymous",
			setup: func(*Provider) {},
			user:  "",
		},
		{
			name:  "no record",
			setup: func(*Provider) {},
			user:  "nobody",
		},
		{
			name: "expired and unrefreshable",
			setup: func(p *Provider) {
				_, _ = p.StoreGrant("bob", token.UserTokenRecord{
					AccessToken: "old",
					ExpiresAt:   testNow.Unix() - 5,
				})
			},
			user: "bob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			p := newTestProvider(t, &fakeUpstream{}, WithObserver(obs))
			tt.setup(p)

			_, err := p.UserToken(context.Background(), tt.user)
			assert.ErrorIs(t, err, ErrAuthRequired)
			assert.Equal(t, 1, obs.required)
		})
	}
}

func TestUserToken_DefinitiveRefreshFailureEvicts(t *testing.T) {
	up := &fakeUpstream{refreshErr: upstream.ErrInvalidGrant}
	p := newTestProvider(t, up)

	key, err := p.StoreGrant("alice", refreshable(100))
	require.NoError(t, err)

	_, err = p.UserToken(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	_, ok := p.Users().Get(key)
	assert.False(t, ok, "rejected record is evicted")
}

func TestUserToken_TransientRefreshFailureKeeps(t *testing.T) {
	up := &fakeUpstream{refreshErr: &upstream.TransientError{Op: "refresh", Err: errors.New("timeout")}}
	p := newTestProvider(t, up)

	key, err := p.StoreGrant("alice", refreshable(100))
	require.NoError(t, err)

	_, err = p.UserToken(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, upstream.IsTransient(err))
	assert.NotErrorIs(t, err, ErrAuthRequired)

	_, ok := p.Users().Get(key)
	assert.True(t, ok)
}

func TestRefresh_ConcurrentCallsCoalesce(t *testing.T) {
	up := &fakeUpstream{refreshDelay: 50 * time.Millisecond}
	obs := &recordingObserver{}
	p := newTestProvider(t, up, WithObserver(obs))

	key, err := p.StoreGrant("alice", refreshable(120))
	require.NoError(t, err)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = p.Refresh(context.Background(), key)
		}()
	}
	close(start)
	wg.Wait()

	// Callers that missed the first flight find the record fresh.
	assert.Equal(t, int32(1), up.refreshCalls.Load())
}

func TestRefresh_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		rec  *token.UserTokenRecord
		want Outcome
	}{
		{"missing", nil, OutcomeMissing},
		{"fresh", ptr(refreshable(3600)), OutcomeNotNeeded},
		{"in window", ptr(refreshable(60)), OutcomeRefreshed},
		{"expired but refreshable", ptr(refreshable(-60)), OutcomeRefreshed},
		{"no refresh material", &token.UserTokenRecord{AccessToken: "a", ExpiresAt: testNow.Unix() + 60}, OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, &fakeUpstream{})
			key := p.KeyFor("alice")
			if tt.rec != nil {
				_, err := p.StoreGrant("alice", *tt.rec)
				require.NoError(t, err)
			}

			outcome, err := p.Refresh(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestTenantMode_IgnoresUserKey(t *testing.T) {
	up := &fakeUpstream{}
	p := newTestProvider(t, up, WithTenantMode(true))

	a, err := p.UserToken(context.Background(), "alice")
	require.NoError(t, err)
	b, err := p.UserToken(context.Background(), "bob")
	require.NoError(t, err)
	c, err := p.UserToken(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Equal(t, int32(1), up.tenantCalls.Load(), "all users share one cached tenant record")
}

func TestTenantToken_FetchFailure(t *testing.T) {
	up := &fakeUpstream{tenantErr: upstream.ErrInvalidCredentials}
	p := newTestProvider(t, up)

	_, err := p.TenantToken(context.Background())
	assert.ErrorIs(t, err, upstream.ErrInvalidCredentials)
}

func TestToken_UsesContextIdentity(t *testing.T) {
	p := newTestProvider(t, &fakeUpstream{})
	_, err := p.StoreGrant("alice", refreshable(3600))
	require.NoError(t, err)

	ctx := identity.WithIdentity(context.Background(), identity.Identity{UserKey: "alice"})
	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cached-access", tok)

	ctx = identity.WithResolvedToken(ctx, "already-resolved")
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "already-resolved", tok)

	_, err = p.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestRedeemRefresh(t *testing.T) {
	up := &fakeUpstream{}
	p := newTestProvider(t, up)

	rec := refreshable(3600)
	rec.OpaqueAlias = "dg_handle"
	key, err := p.StoreGrant("opaque", rec)
	require.NoError(t, err)

	foundKey, _, ok := p.FindByAlias("dg_handle")
	require.True(t, ok)
	assert.Equal(t, key, foundKey)

	updated, err := p.RedeemRefresh(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", updated.AccessToken)
	assert.Equal(t, int32(1), up.refreshCalls.Load(), "redeem refreshes even a fresh record")
}

func TestRefresh_RedeemJoinsScheduledRefresh(t *testing.T) {
	up := &fakeUpstream{refreshDelay: 50 * time.Millisecond}
	p := newTestProvider(t, up)

	key, err := p.StoreGrant("opaque", refreshable(120))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		redeemed  token.UserTokenRecord
		redeemErr error
	)
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, _ = p.Refresh(context.Background(), key)
	}()
	go func() {
		defer wg.Done()
		<-start
		redeemed, redeemErr = p.RedeemRefresh(context.Background(), key)
	}()
	close(start)
	wg.Wait()

	require.NoError(t, redeemErr)
	assert.Equal(t, "refreshed-access", redeemed.AccessToken)
	assert.Equal(t, int32(1), up.refreshCalls.Load(), "one upstream refresh per key at a time")
}

func TestRefresh_RejectionKeepsReplacedRecord(t *testing.T) {
	up := &fakeUpstream{}
	p := newTestProvider(t, up)

	key, err := p.StoreGrant("alice", refreshable(100))
	require.NoError(t, err)

	// Another process stores rotated material while our refresh is rejected.
	rotated := refreshable(7200)
	rotated.AccessToken = "rotated-access"
	rotated.RefreshToken = "rotated-refresh"
	p.upstream = &rejectingUpstream{fakeUpstream: up, before: func() {
		require.NoError(t, p.Users().Put(key, rotated, 0))
	}}

	outcome, err := p.Refresh(context.Background(), key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, OutcomeFailed, outcome)

	got, ok := p.Users().Get(key)
	require.True(t, ok, "record replaced during the refresh is kept")
	assert.Equal(t, "rotated-refresh", got.RefreshToken)
}

func TestRefresh_FlightOutlivesCallerContext(t *testing.T) {
	up := &fakeUpstream{}
	p := newTestProvider(t, up)

	key, err := p.StoreGrant("alice", refreshable(100))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := p.Refresh(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)
}

func TestTenantToken_FlightOutlivesCallerContext(t *testing.T) {
	p := newTestProvider(t, &fakeUpstream{}, WithTenantMode(true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tok, err := p.TenantToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tok)
}

// rejectingUpstream runs before and then rejects every refresh as invalid_grant.
type rejectingUpstream struct {
	*fakeUpstream
	before func()
}

func (r *rejectingUpstream) Refresh(_ context.Context, rec token.UserTokenRecord) (token.UserTokenRecord, error) {
	r.refreshCalls.Add(1)
	r.before()
	return rec, upstream.ErrInvalidGrant
}

func TestRevoke(t *testing.T) {
	up := &fakeUpstream{}
	p := newTestProvider(t, up)

	key, err := p.StoreGrant("alice", refreshable(3600))
	require.NoError(t, err)

	removed, err := p.Revoke(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"cached-access"}, up.revoked)

	removed, err = p.Revoke(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, removed)
}

func ptr[T any](v T) *T {
	return &v
}
