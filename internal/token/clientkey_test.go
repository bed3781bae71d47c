package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientKey_Deterministic(t *testing.T) {
	a := ClientKey("cli_app", "secret", "user-1")
	b := ClientKey("cli_app", "secret", "user-1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestClientKey_EachInputMatters(t *testing.T) {
	base := ClientKey("cli_app", "secret", "user-1")

	assert.NotEqual(t, base, ClientKey("cli_other", "secret", "user-1"))
	assert.NotEqual(t, base, ClientKey("cli_app", "secret2", "user-1"))
	assert.NotEqual(t, base, ClientKey("cli_app", "secret", "user-2"))
	assert.NotEqual(t, base, ClientKey("cli_app", "secret", ""))
}

func TestClientKey_NoConcatenationCollision(t *testing.T) {
	assert.NotEqual(t, ClientKey("ab", "c", "d"), ClientKey("a", "bc", "d"))
	assert.NotEqual(t, ClientKey("a", "b", "cd"), ClientKey("a", "bc", "d"))
}

func TestClientKey_DoesNotLeakSecret(t *testing.T) {
	key := ClientKey("cli_app", "super-secret-value", "user")
	assert.False(t, strings.Contains(key, "super-secret-value"))
}

func TestNewOpaqueToken(t *testing.T) {
	a, err := NewOpaqueToken("dg_")
	require.NoError(t, err)
	b, err := NewOpaqueToken("dg_")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "dg_"))
	assert.NotEqual(t, a, b)
	assert.Greater(t, len(a), 40)
}
