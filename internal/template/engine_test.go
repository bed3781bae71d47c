package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_AuthRequired(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	out, err := e.Render(AuthRequired, map[string]any{
		"Provider": "docs",
		"UserKey":  "alice-0123456789",
		"Link":     "https://gw.example.com/login?user_key=alice",
		"StateTTL": "5m0s",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Authorization with Docs is required for user alice-01.")
	assert.Contains(t, out, "https://gw.example.com/login?user_key=alice")
	assert.Contains(t, out, "valid for 5m0s")
}

func TestRender_AuthStatusDefaults(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	out, err := e.Render(AuthStatus, map[string]any{
		"Mode":       "user",
		"UserKey":    "",
		"TokenState": "authorization required",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "mode: user")
	assert.Contains(t, out, "user: <anonym")
	assert.NotContains(t, out, "authorize:")
}

func TestRender_Unknown(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	_, err = e.Render("nope", nil)
	assert.Error(t, err)
}
