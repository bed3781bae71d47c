package formatting

import (
	"encoding/json"
	"io"
)

// JSONFormatter provides structured JSON output formatting
type JSONFormatter struct{}

// FormatTokens writes rows as an indented JSON document.
func (f *JSONFormatter) FormatTokens(w io.Writer, rows []TokenRow) error {
	if rows == nil {
		rows = []TokenRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"tokens": rows,
		"count":  len(rows),
	})
}
