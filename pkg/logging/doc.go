// Package logging provides the subsystem-tagged structured logger used across docgate.
//
// It is a thin layer over Go's log/slog: every entry carries a "subsystem" attribute
// (e.g. "TokenStore", "Gateway", "Scheduler") and, for errors, an "error" attribute.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stderr)
//
//	logging.Info("Bootstrap", "Listening on %s", addr)
//	logging.Debug("Provider", "Cache hit for key=%s", logging.TruncateKey(key))
//	logging.Error("TokenStore", err, "Failed to flush namespace %s", ns)
//
// # Security
//
// Access tokens, refresh tokens and application secrets are never passed to the logger.
// Client keys, user keys and opaque tokens are shortened with TruncateKey.
package logging
