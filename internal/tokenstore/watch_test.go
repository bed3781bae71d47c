package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docgate/internal/token"
)

func TestStore_WatchReloadsExternalWrites(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	server, serverUsers, _ := newTestStore(t, dir, clock)
	require.NoError(t, serverUsers.Put("k1", token.UserTokenRecord{AccessToken: "a"}, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Watch(ctx)
	}()

	// A second process writes the same snapshot with an atomic rename. Writes are
	// repeated until one lands after the watcher is registered.
	_, cliUsers, _ := newTestStore(t, dir, clock)
	assert.Eventually(t, func() bool {
		if err := cliUsers.Put("k2", token.UserTokenRecord{AccessToken: "b"}, 0); err != nil {
			return false
		}
		time.Sleep(2 * watchDebounce)
		_, ok := serverUsers.Get("k2")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"k1", "k2"}, serverUsers.Keys())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestStore_WatchNeedsDirectory(t *testing.T) {
	s, _, _ := newTestStore(t, "", newFakeClock())
	assert.Error(t, s.Watch(context.Background()))
}
