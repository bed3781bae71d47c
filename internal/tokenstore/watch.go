package tokenstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docgate/pkg/logging"
)

// watchDebounce collapses the burst of events a rename-based write produces.
const watchDebounce = 200 * time.Millisecond

// Watch reloads a namespace whenever another process rewrites its snapshot. It blocks
// until ctx is cancelled. Snapshots identical to what this store last wrote are ignored.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		return fmt.Errorf("token store has no directory to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create snapshot watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	logging.Info("TokenStore", "Watching %s for external snapshot changes", s.dir)

	var (
		timersMu sync.Mutex
		timers   = make(map[Namespace]*time.Timer)
	)
	defer func() {
		timersMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timersMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			ns, ok := s.namespaceForFile(filepath.Base(event.Name))
			if !ok {
				continue
			}

			timersMu.Lock()
			if t := timers[ns]; t != nil {
				t.Stop()
			}
			timers[ns] = time.AfterFunc(watchDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := s.Reload(ns); err != nil {
					logging.Error("TokenStore", err, "Failed to reload namespace %s", ns)
				}
			})
			timersMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("TokenStore", err, "Snapshot watcher error")
		}
	}
}

// Reload re-reads the namespace snapshot from disk, replacing the in-memory entries
// when the file differs from the last snapshot seen by this store.
func (s *Store) Reload(ns Namespace) error {
	if s.dir == "" {
		return nil
	}

	s.mu.RLock()
	nsState := s.namespaces[ns]
	s.mu.RUnlock()
	if nsState == nil {
		return fmt.Errorf("unknown namespace %q", ns)
	}

	nsState.flushMu.Lock()
	defer nsState.flushMu.Unlock()

	changed, err := s.loadLocked(nsState)
	if err != nil {
		return err
	}
	if changed {
		logging.Info("TokenStore", "Reloaded namespace %s after external change", ns)
	}
	return nil
}

func (s *Store) namespaceForFile(name string) (Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ns := range s.namespaces {
		if ns.fileName() == name {
			return ns, true
		}
	}
	return "", false
}
