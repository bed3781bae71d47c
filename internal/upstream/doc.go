// Package upstream talks to the document platform's identity provider.
//
// It covers the four calls the gateway needs: fetching an application-level
// tenant token with client credentials, building the authorization URL, exchanging
// an authorization code, and refreshing a user token. Code exchange and refresh go
// through golang.org/x/oauth2; the tenant endpoint is a plain JSON POST retried with
// exponential backoff.
//
// Failures are classified so callers can decide whether to keep cached material:
//
//   - ErrInvalidGrant: the provider definitively rejected the grant. The refresh
//     token (or code) is dead and cached records built on it should be evicted.
//   - *TransientError: network failures, timeouts, 5xx responses. Retrying later
//     may succeed, so cached records are kept.
package upstream
