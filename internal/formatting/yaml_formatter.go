package formatting

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter provides YAML output formatting
type YAMLFormatter struct{}

type yamlListing struct {
	Tokens []TokenRow `yaml:"tokens"`
	Count  int        `yaml:"count"`
}

// FormatTokens writes rows as a YAML document.
func (f *YAMLFormatter) FormatTokens(w io.Writer, rows []TokenRow) error {
	if rows == nil {
		rows = []TokenRow{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(yamlListing{Tokens: rows, Count: len(rows)}); err != nil {
		return err
	}
	return enc.Close()
}
