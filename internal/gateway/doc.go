// Package gateway implements the OAuth 2.0 authorization server that downstream
// MCP clients talk to.
//
// The gateway does not authenticate users itself. It relays the authorization-code
// flow to the upstream identity provider and hands out its own opaque tokens in
// exchange for the upstream material, which stays in the token store:
//
//	client ── /authorize ──▶ gateway ── 302 ──▶ upstream login
//	client ◀── 302 (code, state) ── gateway ◀── /oauth/<provider>/callback
//	client ── /token (code) ──▶ gateway ── code exchange ──▶ upstream
//	client ◀── opaque access + refresh token ── gateway
//
// No server-side session is kept for in-flight authorizations. The caller's
// redirect_uri, state and client_id travel through the upstream inside a base64url
// state blob that expires after StateTTL and can be consumed only once.
//
// Discovery documents and callback URLs are derived from the request's effective
// base URL, honoring X-Forwarded-Proto and X-Forwarded-Host so the gateway works
// behind a reverse proxy.
package gateway
