package app

import (
	"docgate/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// ConfigPath is the configuration directory. Empty uses ~/.config/docgate.
	ConfigPath string

	// Version is reported by the MCP server.
	Version string

	// Docgate is the loaded configuration. It is filled in by NewApplication
	// when nil.
	Docgate *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
