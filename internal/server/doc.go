// Package server wires the MCP transports to the token lifecycle.
//
// One chi router carries everything the process serves:
//
//   - the OAuth gateway endpoints (/register, /authorize, /token, ...)
//   - /mcp, the streamable HTTP transport
//   - /sse and /message, the legacy SSE transport
//   - /health and /metrics
//
// Every request first gets an identity.Identity. The user key comes from an
// Authorization bearer token minted by the gateway, the X-User-Key header or the
// user_key query parameter. SSE clients only present it when opening the stream,
// so the session registry maps their session id to the user key and later
// /message posts are resolved through it.
//
// In user mode a bearer-capable client without a usable token is answered with
// 401 and a WWW-Authenticate challenge pointing at the protected resource
// metadata. Clients that identify with a plain user key instead get a tool
// result carrying a browser login link.
package server
