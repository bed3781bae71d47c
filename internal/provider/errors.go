package provider

import "errors"

// ErrAuthRequired means no usable token exists and none can be obtained without the
// user completing an authorization.
var ErrAuthRequired = errors.New("authorization required")

// ErrRefreshFailed means the upstream rejected the refresh token. The record has been
// evicted, so subsequent lookups report ErrAuthRequired.
var ErrRefreshFailed = errors.New("token refresh rejected")
