package config

import (
	"path/filepath"
	"strings"
)

const (
	// DefaultDomain is the upstream platform used when none is configured.
	DefaultDomain = "https://open.larksuite.com"

	// DefaultProvider names the upstream in the callback path.
	DefaultProvider = "docs"

	// DefaultPort is the HTTP listen port.
	DefaultPort = 3000
)

// Upstream endpoint paths relative to the platform domain.
const (
	authorizePath   = "/open-apis/authen/v1/authorize"
	tokenPath       = "/open-apis/authen/v2/oauth/token"
	tenantTokenPath = "/open-apis/auth/v3/tenant_access_token/internal"
	apiBasePath     = "/open-apis"
)

// GetDefaultConfig returns the default configuration. configPath is the
// configuration directory; token snapshots default to its tokens subdirectory.
func GetDefaultConfig(configPath string) Config {
	dataDir := ""
	if configPath != "" {
		dataDir = filepath.Join(configPath, "tokens")
	}
	return Config{
		Upstream: UpstreamConfig{
			Domain: DefaultDomain,
		},
		Auth: AuthConfig{
			Mode:     AuthModeTenant,
			Provider: DefaultProvider,
		},
		Server: ServerConfig{
			Host:      "localhost",
			Port:      DefaultPort,
			Transport: MCPTransportBoth,
		},
		Store: StoreConfig{
			DataDir: dataDir,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDerivedDefaults fills in values that depend on other settings.
func applyDerivedDefaults(cfg *Config) {
	domain := strings.TrimSuffix(cfg.Upstream.Domain, "/")
	if domain == "" {
		domain = DefaultDomain
	}
	cfg.Upstream.Domain = domain

	if cfg.Upstream.AuthorizeURL == "" {
		cfg.Upstream.AuthorizeURL = domain + authorizePath
	}
	if cfg.Upstream.TokenURL == "" {
		cfg.Upstream.TokenURL = domain + tokenPath
	}
	if cfg.Upstream.TenantTokenURL == "" {
		cfg.Upstream.TenantTokenURL = domain + tenantTokenPath
	}
	if cfg.Upstream.APIBaseURL == "" {
		cfg.Upstream.APIBaseURL = domain + apiBasePath
	}

	if cfg.Auth.Provider == "" {
		cfg.Auth.Provider = DefaultProvider
	}
	if cfg.Auth.CallbackPath == "" {
		cfg.Auth.CallbackPath = "/oauth/" + cfg.Auth.Provider + "/callback"
	}
	cfg.Auth.PublicURL = strings.TrimSuffix(cfg.Auth.PublicURL, "/")
}
