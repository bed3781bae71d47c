package identity

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_Empty(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserKey: "alice", BaseURL: "https://gw.example.com"})

	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", id.UserKey)
	assert.Equal(t, "https://gw.example.com", id.BaseURL)
	assert.Empty(t, id.ResolvedToken)
}

func TestWithResolvedToken_DoesNotLeakToParent(t *testing.T) {
	parent := WithIdentity(context.Background(), Identity{UserKey: "alice"})
	child := WithResolvedToken(parent, "tok")

	id, _ := FromContext(child)
	assert.Equal(t, "tok", id.ResolvedToken)
	assert.Equal(t, "alice", id.UserKey)

	id, _ = FromContext(parent)
	assert.Empty(t, id.ResolvedToken)
}

func TestScopesDoNotMerge(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("user-%d", i)
			ctx := WithIdentity(context.Background(), Identity{UserKey: want})

			// nested work inherits the scope of its caller
			done := make(chan string)
			go func(ctx context.Context) {
				id, _ := FromContext(ctx)
				done <- id.UserKey
			}(ctx)

			assert.Equal(t, want, <-done)
		}(i)
	}
	wg.Wait()
}

func TestRegistry_BindResolve(t *testing.T) {
	r := NewRegistry()

	r.Bind("s1", "alice")
	r.Bind("s2", "bob")

	got, ok := r.Resolve("s1")
	require.True(t, ok)
	assert.Equal(t, "alice", got)
	assert.Equal(t, 2, r.Len())

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}

func TestRegistry_UnbindAfterRepeatedBind(t *testing.T) {
	r := NewRegistry()

	r.Bind("s1", "alice")
	r.Bind("s1", "alice")
	r.Bind("s1", "carol")
	r.Unbind("s1")

	_, ok := r.Resolve("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	// unbinding twice is harmless
	r.Unbind("s1")
}
