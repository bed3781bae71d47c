// Package identity carries the caller's identity through a request and maps
// long-lived transport sessions to the user that opened them.
//
// The identity of a request is attached to its context.Context with WithIdentity
// and read back with FromContext. Work started with a derived context observes the
// same identity; two requests never share one because each starts from its own
// context.
//
// Registry is only needed for transports where the user is known when the
// connection opens but not on every later message (SSE). Entries must be removed
// with Unbind when the transport reports the session closed.
package identity
