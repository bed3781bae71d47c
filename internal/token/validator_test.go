package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	unix := now.Unix()

	tests := []struct {
		name   string
		record *UserTokenRecord
		want   Status
	}{
		{
			name: "inside refresh window with live refresh token",
			record: &UserTokenRecord{
				AccessToken:      "at",
				RefreshToken:     "rt",
				ExpiresAt:        unix + 200,
				RefreshExpiresAt: unix + 10000,
			},
			want: Status{IsValid: true, CanRefresh: true, ShouldRefresh: true},
		},
		{
			name:   "expired without refresh token",
			record: &UserTokenRecord{AccessToken: "at", ExpiresAt: unix - 5},
			want:   Status{IsExpired: true},
		},
		{
			name: "fresh token outside window",
			record: &UserTokenRecord{
				AccessToken:      "at",
				RefreshToken:     "rt",
				ExpiresAt:        unix + 3600,
				RefreshExpiresAt: unix + 10000,
			},
			want: Status{IsValid: true, CanRefresh: true},
		},
		{
			name: "expired but refreshable",
			record: &UserTokenRecord{
				AccessToken:      "at",
				RefreshToken:     "rt",
				ExpiresAt:        unix - 60,
				RefreshExpiresAt: unix + 10000,
			},
			want: Status{IsExpired: true, CanRefresh: true},
		},
		{
			name: "refresh token lapsed",
			record: &UserTokenRecord{
				AccessToken:      "at",
				RefreshToken:     "rt",
				ExpiresAt:        unix + 100,
				RefreshExpiresAt: unix - 1,
			},
			want: Status{IsValid: true},
		},
		{
			name:   "refresh token without recorded expiry is not refreshable",
			record: &UserTokenRecord{AccessToken: "at", RefreshToken: "rt", ExpiresAt: unix + 100},
			want:   Status{IsValid: true},
		},
		{
			name:   "no expiry is never expired",
			record: &UserTokenRecord{AccessToken: "at"},
			want:   Status{IsValid: true},
		},
		{
			name: "window boundary at exactly 300 seconds",
			record: &UserTokenRecord{
				AccessToken:      "at",
				RefreshToken:     "rt",
				ExpiresAt:        unix + 300,
				RefreshExpiresAt: unix + 10000,
			},
			want: Status{IsValid: true, CanRefresh: true, ShouldRefresh: true},
		},
		{
			name: "expiring exactly now is not in window",
			record: &UserTokenRecord{
				AccessToken:      "at",
				RefreshToken:     "rt",
				ExpiresAt:        unix,
				RefreshExpiresAt: unix + 10000,
			},
			want: Status{IsValid: true, CanRefresh: true},
		},
		{
			name:   "nil record",
			record: nil,
			want:   Status{IsExpired: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserStatus(tt.record, now))
		})
	}
}

func TestTenantStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	unix := now.Unix()

	s := TenantStatus(&TenantTokenRecord{AppAccessToken: "t", ExpiresAt: unix + 200}, now)
	assert.True(t, s.IsValid)
	assert.True(t, s.ShouldRefresh, "tenant tokens re-fetch inside the window without a refresh gate")
	assert.False(t, s.CanRefresh)

	s = TenantStatus(&TenantTokenRecord{AppAccessToken: "t", ExpiresAt: unix + 7200}, now)
	assert.Equal(t, Status{IsValid: true}, s)

	s = TenantStatus(&TenantTokenRecord{AppAccessToken: "t", ExpiresAt: unix - 1}, now)
	assert.Equal(t, Status{IsExpired: true}, s)
}

func TestUserTokenRecord_CacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	rec := &UserTokenRecord{ExpiresAt: now.Unix() + 10, RefreshExpiresAt: now.Unix() + 100}
	assert.Equal(t, time.Unix(now.Unix()+100, 0), rec.CacheExpiry(now))

	rec = &UserTokenRecord{ExpiresAt: now.Unix() + 10}
	assert.Equal(t, time.Unix(now.Unix()+10, 0), rec.CacheExpiry(now))

	rec = &UserTokenRecord{}
	assert.Equal(t, now.Add(DefaultCacheWindow), rec.CacheExpiry(now))
}

func TestUserTokenRecord_RefreshLapsed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	stale := &UserTokenRecord{ExpiresAt: now.Unix() - 100, RefreshToken: "rt", RefreshExpiresAt: now.Unix() + 100}
	assert.False(t, stale.RefreshLapsed(now), "stale but refreshable records are retained")

	lapsed := &UserTokenRecord{ExpiresAt: now.Unix() - 100, RefreshToken: "rt", RefreshExpiresAt: now.Unix() - 1}
	assert.True(t, lapsed.RefreshLapsed(now))
}

func TestHasRefreshMaterial(t *testing.T) {
	assert.True(t, (&UserTokenRecord{RefreshToken: "r", ClientID: "c", ClientSecret: "s"}).HasRefreshMaterial())
	assert.False(t, (&UserTokenRecord{RefreshToken: "r", ClientID: "c"}).HasRefreshMaterial())
	assert.False(t, (&UserTokenRecord{ClientID: "c", ClientSecret: "s"}).HasRefreshMaterial())
}
