// Package config provides configuration management for docgate.
//
// Configuration is loaded from a single directory. The default directory is
// ~/.config/docgate, and commands accept --config-path to point elsewhere.
//
// # Configuration Directory
//
// The directory may contain:
//   - config.yaml (main configuration file)
//   - .env (environment variables, loaded before overrides are applied)
//
// A .env file in the working directory is loaded as well. Variables already set
// in the process environment win over both files.
//
// # Sources and Precedence
//
// Values are resolved in this order, later sources overriding earlier ones:
//
//  1. Built-in defaults
//  2. config.yaml
//  3. Environment variables (DOCGATE_APP_ID, DOCGATE_APP_SECRET, DOCGATE_AUTH_MODE,
//     DOCGATE_PUBLIC_URL, DOCGATE_DATA_DIR, DOCGATE_DOMAIN, DOCGATE_PORT,
//     DOCGATE_LOG_LEVEL)
//
// Upstream endpoint URLs that are not set explicitly are derived from
// upstream.domain after all sources are applied.
//
// # Example
//
//	upstream:
//	  appID: cli_a1b2c3
//	  appSecret: ${set via DOCGATE_APP_SECRET}
//	  domain: https://open.larksuite.com
//	  scopes: [docx:document, offline_access]
//	auth:
//	  mode: user
//	  publicURL: https://docgate.example.com
//	server:
//	  host: 0.0.0.0
//	  port: 3000
//	store:
//	  dataDir: /var/lib/docgate
//	  watch: true
//
// # Validation
//
// Missing application credentials or an unknown auth mode make LoadConfig fail
// with a ConfigurationError, which is fatal at startup.
package config
