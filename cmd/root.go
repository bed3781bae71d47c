package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docgate/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigError indicates the configuration could not be loaded or is invalid.
	ExitCodeConfigError = 2
)

// configPath is the configuration directory shared by every subcommand.
var configPath string

// rootCmd represents the base command for the docgate application.
var rootCmd = &cobra.Command{
	Use:   "docgate",
	Short: "MCP gateway to a document platform with OAuth token management",
	Long: `docgate serves a document platform API to MCP clients over streamable HTTP
and SSE. It acts as an OAuth authorization server for those clients, keeps the
upstream tokens of every user cached and refreshed, and can run with a single
application (tenant) token instead.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "docgate version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		var cfgErr config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, cfgErr.DetailedError())
		}
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var cfgErr config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitCodeConfigError
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default ~/.config/docgate)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newTokensCmd())
}
