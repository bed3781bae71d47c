package token

import "time"

// RefreshWindow is how long before access expiry a token is proactively refreshed.
const RefreshWindow = 5 * time.Minute

// Status is the derived state of a token record at a given instant.
type Status struct {
	IsValid       bool
	IsExpired     bool
	CanRefresh    bool
	ShouldRefresh bool
}

// UserStatus computes the status of a user record. A nil record is expired and unrefreshable.
func UserStatus(rec *UserTokenRecord, now time.Time) Status {
	if rec == nil {
		return Status{IsExpired: true}
	}

	nowUnix := now.Unix()
	isExpired := rec.ExpiresAt != 0 && rec.ExpiresAt < nowUnix
	canRefresh := rec.RefreshToken != "" && rec.RefreshExpiresAt > nowUnix

	return Status{
		IsValid:       !isExpired,
		IsExpired:     isExpired,
		CanRefresh:    canRefresh,
		ShouldRefresh: canRefresh && inRefreshWindow(rec.ExpiresAt, nowUnix),
	}
}

// TenantStatus computes the status of a tenant record. Tenant tokens are never
// refreshable; ShouldRefresh tells the caller to re-fetch early.
func TenantStatus(rec *TenantTokenRecord, now time.Time) Status {
	if rec == nil {
		return Status{IsExpired: true}
	}

	nowUnix := now.Unix()
	isExpired := rec.ExpiresAt != 0 && rec.ExpiresAt < nowUnix

	return Status{
		IsValid:       !isExpired,
		IsExpired:     isExpired,
		ShouldRefresh: inRefreshWindow(rec.ExpiresAt, nowUnix),
	}
}

// inRefreshWindow reports whether 0 < expiresAt-now <= RefreshWindow.
func inRefreshWindow(expiresAt, nowUnix int64) bool {
	if expiresAt == 0 {
		return false
	}
	remaining := expiresAt - nowUnix
	return remaining > 0 && remaining <= int64(RefreshWindow/time.Second)
}
