// Package app provides application bootstrap and lifecycle management for docgate.
//
// # Bootstrap
//
// NewApplication loads the configuration (config.yaml, .env and DOCGATE_*
// environment overrides), initializes logging and constructs every component
// explicitly:
//
//  1. Token store and its user and tenant buckets
//  2. Upstream identity provider client
//  3. Token provider, observed by the Prometheus metrics
//  4. Refresh scheduler
//  5. OAuth gateway
//  6. HTTP server with the MCP transports
//
// Nothing is registered globally; each component receives its collaborators as
// constructor arguments.
//
// # Running
//
// Run serves until SIGINT or SIGTERM. The HTTP server, the snapshot watcher and
// the refresh scheduler share one errgroup, so a failure of any of them stops
// the others. Once the listener is bound the process reports readiness to
// systemd when started with Type=notify.
package app
