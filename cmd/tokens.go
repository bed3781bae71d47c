package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docgate/internal/app"
	"docgate/internal/formatting"
	"docgate/internal/scheduler"
	"docgate/internal/token"
	"docgate/pkg/logging"
)

var (
	tokensOutput  string
	tokensNoColor bool
	revokeByUser  bool
)

func newTokensCmd() *cobra.Command {
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and maintain the cached upstream tokens",
		Long: `Work directly on the token snapshots in the data directory. The commands
are safe to run next to a serving docgate: snapshot files are locked while
they are read and written, and the server reloads them when they change.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached user and tenant tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadTokenServices()
			if err != nil {
				return err
			}
			return listTokens(cmd.OutOrStdout(), s, formatting.Options{
				Format: formatting.OutputFormat(tokensOutput),
				Color:  !tokensNoColor,
			}, time.Now())
		},
	}
	listCmd.Flags().StringVarP(&tokensOutput, "output", "o", "table", "Output format: table, json or yaml")
	listCmd.Flags().BoolVar(&tokensNoColor, "no-color", false, "Disable colored table output")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Refresh expiring user tokens and evict expired entries once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadTokenServices()
			if err != nil {
				return err
			}
			return sweepTokens(cmdContext(cmd), cmd.OutOrStdout(), s)
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <key>",
		Short: "Evict a user token and revoke it upstream",
		Long: `Evicts one user token. The key is a store key or an unambiguous prefix of one,
as shown by 'docgate tokens list'. With --user the argument is the end user's
key and the store key is derived from it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadTokenServices()
			if err != nil {
				return err
			}
			return revokeToken(cmdContext(cmd), cmd.OutOrStdout(), s, args[0], revokeByUser)
		},
	}
	revokeCmd.Flags().BoolVar(&revokeByUser, "user", false, "Treat the argument as a user key")

	tokensCmd.AddCommand(listCmd, sweepCmd, revokeCmd)
	return tokensCmd
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadTokenServices opens the token store without starting the server. Only
// warnings are logged so that command output stays readable.
func loadTokenServices() (*app.Services, error) {
	logging.InitForCLI(logging.LevelWarn, os.Stderr)

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.InitializeTokenServices(cfg)
}

// tokenRows describes every live entry of both buckets.
func tokenRows(s *app.Services, now time.Time) []formatting.TokenRow {
	var rows []formatting.TokenRow

	for _, key := range s.Users.Keys() {
		e, ok := s.Users.GetEntry(key)
		if !ok {
			continue
		}
		rec := e.Data
		rows = append(rows, formatting.TokenRow{
			Kind:             "user",
			Key:              logging.TruncateKey(key),
			Status:           statusLabel(token.UserStatus(&rec, now)),
			ExpiresAt:        unixTime(rec.ExpiresAt),
			RefreshExpiresAt: unixTime(rec.RefreshExpiresAt),
			Gateway:          rec.OpaqueAlias != "",
		})
	}

	for _, key := range s.Tenants.Keys() {
		e, ok := s.Tenants.GetEntry(key)
		if !ok {
			continue
		}
		rec := e.Data
		rows = append(rows, formatting.TokenRow{
			Kind:      "tenant",
			Key:       logging.TruncateKey(key),
			Status:    statusLabel(token.TenantStatus(&rec, now)),
			ExpiresAt: unixTime(rec.ExpiresAt),
		})
	}

	return rows
}

func statusLabel(st token.Status) string {
	switch {
	case st.IsExpired && st.CanRefresh:
		return "refreshable"
	case st.IsExpired:
		return "expired"
	case st.ShouldRefresh:
		return "expiring"
	default:
		return "valid"
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func listTokens(w io.Writer, s *app.Services, opts formatting.Options, now time.Time) error {
	f, err := formatting.New(opts)
	if err != nil {
		return err
	}
	return f.FormatTokens(w, tokenRows(s, now))
}

func sweepTokens(ctx context.Context, w io.Writer, s *app.Services) error {
	report := scheduler.New(s.Provider, s.Users, s.Store).RunOnce(ctx)
	_, err := fmt.Fprintf(w, "checked %d, refreshed %d, failed %d, skipped %d, evicted %d, swept %d\n",
		report.Checked, report.Refreshed, report.Failed, report.Skipped, report.Evicted, report.Swept)
	return err
}

func revokeToken(ctx context.Context, w io.Writer, s *app.Services, arg string, byUser bool) error {
	key := arg
	if byUser {
		key = s.Provider.KeyFor(arg)
	} else {
		resolved, err := resolveStoreKey(s.Users.Keys(), arg)
		if err != nil {
			return err
		}
		key = resolved
	}

	removed, err := s.Provider.Revoke(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no cached token for %s", logging.TruncateKey(key))
	}
	_, err = fmt.Fprintf(w, "Revoked %s\n", logging.TruncateKey(key))
	return err
}

// resolveStoreKey expands a listed (possibly truncated) key to the one store key
// it identifies.
func resolveStoreKey(keys []string, arg string) (string, error) {
	prefix := strings.TrimSuffix(arg, "...")
	if prefix == "" {
		return "", fmt.Errorf("empty key")
	}

	var matches []string
	for _, k := range keys {
		if k == prefix {
			return k, nil
		}
		if strings.HasPrefix(k, prefix) {
			matches = append(matches, k)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no cached token matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d cached tokens, give more of the key", arg, len(matches))
	}
}
