// Package template renders the human-readable messages docgate returns through
// MCP tool results, such as the authorization link shown to clients that cannot
// follow an OAuth flow themselves.
package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Template names.
const (
	AuthRequired  = "auth_required"
	AuthAnonymous = "auth_anonymous"
	AuthStatus    = "auth_status"
)

const builtin = `
{{- define "auth_required" -}}
Authorization with {{ .Provider | title }} is required{{ if .UserKey }} for user {{ .UserKey | trunc 8 }}{{ end }}.

Open this link in a browser and sign in:
{{ .Link }}

The link is valid for {{ .StateTTL }}. Retry the previous request afterwards.
{{- end }}

{{- define "auth_anonymous" -}}
This gateway runs in user mode and the connection carries no user identity.
Reconnect with an Authorization: Bearer token, an X-User-Key header, or a user_key query parameter.
{{- end }}

{{- define "auth_status" -}}
mode: {{ .Mode }}
user: {{ .UserKey | default "<anonymous>" | trunc 8 }}
{{- if .Session }}
session: {{ .Session }}
{{- end }}
token: {{ .TokenState }}
{{- if .Link }}
authorize: {{ .Link }}
{{- end }}
{{- end }}
`

// Engine renders the built-in message templates.
type Engine struct {
	templates *template.Template
}

// New parses the built-in templates.
func New() (*Engine, error) {
	t, err := template.New("messages").Funcs(sprig.TxtFuncMap()).Parse(builtin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render executes the named template with data.
func (e *Engine) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
