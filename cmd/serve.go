package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"docgate/internal/app"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveCmd defines the serve command structure.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docgate MCP gateway",
	Long: `Starts the MCP transports, the OAuth gateway and the background token
refresh scheduler, then serves until interrupted.

Configuration:
  docgate loads config.yaml and an optional .env file from the configuration
  directory, ~/.config/docgate unless --config-path is given. Environment
  variables prefixed with DOCGATE_ override the file.

Endpoints:
  /mcp                                   streamable HTTP transport
  /sse, /message                         SSE transport
  /.well-known/oauth-authorization-server
  /.well-known/oauth-protected-resource  OAuth discovery
  /register, /authorize, /token          OAuth gateway
  /login                                 browser login for user-key clients
  /health, /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, configPath, GetVersion())

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
