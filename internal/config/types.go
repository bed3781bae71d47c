package config

// Config is the top-level configuration structure for docgate.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AuthMode selects whose token a request uses.
type AuthMode string

const (
	// AuthModeTenant makes every request act as the application.
	AuthModeTenant AuthMode = "tenant"
	// AuthModeUser makes every request act as its end user.
	AuthModeUser AuthMode = "user"
)

const (
	// MCPTransportStreamableHTTP is the streamable HTTP transport.
	MCPTransportStreamableHTTP = "streamable-http"
	// MCPTransportSSE is the Server-Sent Events transport.
	MCPTransportSSE = "sse"
	// MCPTransportBoth serves both transports.
	MCPTransportBoth = "both"
)

// UpstreamConfig describes the document platform application.
type UpstreamConfig struct {
	AppID     string `yaml:"appID"`
	AppSecret string `yaml:"appSecret"`

	// Domain is the platform base URL the endpoint defaults are derived from.
	Domain string `yaml:"domain,omitempty"`

	AuthorizeURL   string `yaml:"authorizeURL,omitempty"`
	TokenURL       string `yaml:"tokenURL,omitempty"`
	TenantTokenURL string `yaml:"tenantTokenURL,omitempty"`
	RevokeURL      string `yaml:"revokeURL,omitempty"`

	// APIBaseURL is the document API that authenticated tool calls go to.
	APIBaseURL string `yaml:"apiBaseURL,omitempty"`

	Scopes []string `yaml:"scopes,omitempty"`
}

// AuthConfig configures the OAuth gateway.
type AuthConfig struct {
	Mode AuthMode `yaml:"mode,omitempty"`

	// PublicURL is the externally visible base URL, used when requests carry no
	// forwarding headers and for the upstream callback.
	PublicURL string `yaml:"publicURL,omitempty"`

	// Provider names the upstream in the callback path (/oauth/<provider>/callback).
	Provider     string `yaml:"provider,omitempty"`
	CallbackPath string `yaml:"callbackPath,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	Transport string `yaml:"transport,omitempty"`
}

// StoreConfig configures token persistence.
type StoreConfig struct {
	// DataDir holds the token snapshots. Empty keeps tokens in memory only.
	DataDir string `yaml:"dataDir,omitempty"`

	// Watch reloads snapshots rewritten by other processes.
	Watch *bool `yaml:"watch,omitempty"`
}

// WatchEnabled reports whether the snapshot watcher should run.
func (s StoreConfig) WatchEnabled() bool {
	return s.DataDir != "" && (s.Watch == nil || *s.Watch)
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}
