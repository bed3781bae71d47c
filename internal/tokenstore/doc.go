// Package tokenstore implements the namespaced, TTL-aware token cache shared by the
// token provider, the refresh scheduler and the OAuth gateway.
//
// # Layout
//
// A Store owns one keyspace. Each record kind gets a typed Bucket bound to a
// Namespace, which is a plain key prefix ("user_access_token:", "tenant_access_token:").
// Every value is wrapped in an Entry that carries the cache clock (write time and
// eviction time) separately from the token's own expiry.
//
// # Persistence
//
// When the store has a directory, each namespace is mirrored to
// <dir>/<namespace>.json. The snapshot is loaded when the bucket is created and
// rewritten wholesale after every mutation of that namespace. Writes go through a
// temporary file and a rename, under an advisory file lock (<file>.lock), so another
// docgate process (for example "docgate tokens revoke") never observes a torn file.
// Concurrent writers are last-writer-wins.
//
// Watch reloads a namespace when another process rewrites its snapshot.
//
// # Eviction
//
// Eviction is decided per namespace: user records stay while they can still be
// refreshed, even if the access token is stale; tenant records leave when their cache
// entry expires. Expired entries are dropped lazily on Get and eagerly by SweepExpired.
//
// # Security
//
// Snapshot files are written with 0600 permissions inside a 0700 directory. Record
// contents are never logged.
package tokenstore
