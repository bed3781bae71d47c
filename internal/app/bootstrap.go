package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"docgate/internal/config"
	"docgate/pkg/logging"
)

// Application represents the main application structure that bootstraps and runs
// docgate.
//
// Example usage:
//
//	cfg := app.NewConfig(false, "", version)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration, initializes logging and constructs all
// services. A configuration problem is returned as config.ConfigurationError.
func NewApplication(cfg *Config) (*Application, error) {
	// Logging before the configuration is known goes to stderr at info level.
	logging.InitForCLI(bootLevel(cfg.Debug), os.Stderr)

	if cfg.Docgate == nil {
		loaded, err := LoadConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Docgate = &loaded
	}

	InitLogging(*cfg.Docgate, cfg.Debug, os.Stderr)

	services, err := InitializeServices(*cfg.Docgate, cfg.Version)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Run serves until ctx is cancelled or the process receives SIGINT or SIGTERM.
func (a *Application) Run(ctx context.Context) error {
	return runServe(ctx, a.services)
}

// Services exposes the constructed components.
func (a *Application) Services() *Services {
	return a.services
}

// LoadConfig loads the configuration from configPath, defaulting to
// ~/.config/docgate.
func LoadConfig(configPath string) (config.Config, error) {
	if configPath == "" {
		var err error
		configPath, err = config.GetDefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", configPath)
		return config.Config{}, err
	}
	return cfg, nil
}

// InitLogging applies the configured level and format. debug forces debug level.
func InitLogging(cfg config.Config, debug bool, output io.Writer) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if debug {
		level = logging.LevelDebug
	}
	format := logging.FormatText
	if cfg.Logging.Format == string(logging.FormatJSON) {
		format = logging.FormatJSON
	}
	logging.Init(level, format, output)
}

func bootLevel(debug bool) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}
