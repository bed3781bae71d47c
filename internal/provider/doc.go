// Package provider hands out upstream access tokens for requests.
//
// The Provider reads cached records from the token store, decides with the
// validator whether a record can be served, refreshed or must be re-authorized,
// and writes refreshed or freshly fetched material back. It never starts an
// interactive authorization itself; callers receive ErrAuthRequired and send the
// user through the OAuth gateway.
//
// Upstream calls for one ClientKey are coalesced with singleflight, and the record
// status is evaluated again inside the flight, so concurrent on-demand refreshes
// and the background scheduler produce at most one upstream call per key.
package provider
