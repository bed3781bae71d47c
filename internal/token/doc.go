// Package token defines the token records cached by docgate, the pure status
// computation over them, and the ClientKey that joins a request identity to its
// cached record.
//
// Nothing in this package performs I/O. Status functions take the current time as a
// parameter so callers (the provider, the refresh scheduler, tests) agree on "now".
package token
