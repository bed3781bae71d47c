package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docgate/pkg/logging"
)

const (
	userConfigDir  = ".config/docgate"
	configFileName = "config.yaml"
	envFileName    = ".env"
)

// Environment variables that override file configuration.
const (
	EnvAppID     = "DOCGATE_APP_ID"
	EnvAppSecret = "DOCGATE_APP_SECRET"
	EnvAuthMode  = "DOCGATE_AUTH_MODE"
	EnvPublicURL = "DOCGATE_PUBLIC_URL"
	EnvDataDir   = "DOCGATE_DATA_DIR"
	EnvDomain    = "DOCGATE_DOMAIN"
	EnvPort      = "DOCGATE_PORT"
	EnvLogLevel  = "DOCGATE_LOG_LEVEL"
)

// GetDefaultConfigPath returns ~/.config/docgate.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadConfig loads configuration from configPath using the process environment.
func LoadConfig(configPath string) (Config, error) {
	// godotenv never overrides variables that are already set.
	_ = godotenv.Load(filepath.Join(configPath, envFileName))
	_ = godotenv.Load(envFileName)

	return LoadConfigWithEnv(configPath, os.LookupEnv)
}

// LoadConfigWithEnv loads configuration from configPath, applying overrides read
// through lookup, and validates the result.
func LoadConfigWithEnv(configPath string, lookup LookupFunc) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig(configPath)

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "io",
			Message:   "failed to read configuration file",
			Details:   err.Error(),
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, ConfigurationError{
				FilePath:    configFilePath,
				ErrorType:   "parse",
				Message:     "malformed YAML",
				Details:     err.Error(),
				Suggestions: []string{"Check indentation and field names against the documented example"},
			}
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnv(&config, lookup); err != nil {
		return Config{}, err
	}
	applyDerivedDefaults(&config)

	if errs := config.Validate(); errs.HasErrors() {
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "validation",
			Message:   errs.Error(),
			Suggestions: []string{
				fmt.Sprintf("Set upstream.appID and upstream.appSecret, or %s and %s", EnvAppID, EnvAppSecret),
				fmt.Sprintf("auth.mode (or %s) must be %q or %q", EnvAuthMode, AuthModeTenant, AuthModeUser),
			},
		}
	}
	return config, nil
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvAppID, &cfg.Upstream.AppID)
	set(EnvAppSecret, &cfg.Upstream.AppSecret)
	set(EnvPublicURL, &cfg.Auth.PublicURL)
	set(EnvDataDir, &cfg.Store.DataDir)
	set(EnvDomain, &cfg.Upstream.Domain)
	set(EnvLogLevel, &cfg.Logging.Level)

	if v, ok := lookup(EnvAuthMode); ok && v != "" {
		cfg.Auth.Mode = AuthMode(v)
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return ConfigurationError{
				ErrorType: "validation",
				Message:   fmt.Sprintf("%s must be a number", EnvPort),
				Details:   err.Error(),
			}
		}
		cfg.Server.Port = port
	}
	return nil
}
