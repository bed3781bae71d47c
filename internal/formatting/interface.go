// Package formatting renders token listings for the CLI as a table, JSON or YAML.
package formatting

import (
	"fmt"
	"io"
	"time"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// TokenRow is one cached token as shown to an operator. Secrets never appear in
// it; Key is already truncated.
type TokenRow struct {
	Kind             string    `json:"kind" yaml:"kind"`
	Key              string    `json:"key" yaml:"key"`
	Status           string    `json:"status" yaml:"status"`
	ExpiresAt        time.Time `json:"expiresAt" yaml:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt,omitempty" yaml:"refreshExpiresAt,omitempty"`
	Gateway          bool      `json:"gateway" yaml:"gateway"`
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Color  bool // Enable colored output
}

// Formatter writes token listings.
type Formatter interface {
	FormatTokens(w io.Writer, rows []TokenRow) error
}

// New returns the formatter for options.Format.
func New(options Options) (Formatter, error) {
	switch options.Format {
	case FormatTable, "":
		return &TableFormatter{options: options}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (use table, json or yaml)", options.Format)
	}
}
