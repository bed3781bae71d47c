package tokenstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"docgate/pkg/logging"
)

// lockRetryDelay is the polling interval while waiting for a snapshot lock.
const lockRetryDelay = 50 * time.Millisecond

// snapshotPath returns the file backing the namespace.
func (s *Store) snapshotPath(ns Namespace) string {
	return filepath.Join(s.dir, ns.fileName())
}

// flush rewrites the namespace snapshot from the current in-memory state. Snapshots
// are taken after acquiring the namespace flush lock, so a later flush always writes
// a state at least as new as an earlier one.
func (s *Store) flush(ns Namespace) error {
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

	s.mu.RLock()
	entries := s.entriesLocked(ns)
	s.mu.RUnlock()

	data, err := nsState.encode(entries)
	if err != nil {
		return fmt.Errorf("failed to encode %s snapshot: %w", ns, err)
	}

	path := s.snapshotPath(ns)
	err = s.withFileLock(path, false, func() error {
		return writeFileAtomic(path, data, 0600)
	})
	if err != nil {
		logging.Error("TokenStore", err, "Failed to flush namespace %s", ns)
		return fmt.Errorf("failed to persist %s snapshot: %w", ns, err)
	}

	nsState.digest = sha256.Sum256(data)
	logging.Debug("TokenStore", "Flushed %d entries to %s", len(entries), path)
	return nil
}

// loadLocked reads the namespace snapshot and replaces the in-memory entries with it.
// It reports whether anything was applied; a snapshot identical to the last one this
// store wrote or read is ignored.
// REQUIRES: nsState.flushMu held.
func (s *Store) loadLocked(nsState *namespace) (bool, error) {
	path := s.snapshotPath(nsState.ns)

	var data []byte
	err := s.withFileLock(path, true, func() error {
		var readErr error
		// #nosec G304 -- path is built from the configured directory and a fixed namespace name
		data, readErr = os.ReadFile(path)
		return readErr
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s snapshot: %w", nsState.ns, err)
	}

	digest := sha256.Sum256(data)
	if digest == nsState.digest {
		return false, nil
	}

	entries, err := nsState.decode(data)
	if err != nil {
		return false, fmt.Errorf("failed to decode %s snapshot: %w", nsState.ns, err)
	}

	now := s.now()
	kept := make(map[string]any, len(entries))
	for key, v := range entries {
		if !strings.HasPrefix(key, string(nsState.ns)) {
			logging.Warn("TokenStore", "Ignoring foreign key in %s snapshot", nsState.ns)
			continue
		}
		if nsState.evict(v, now) {
			continue
		}
		kept[key] = v
	}

	s.mu.Lock()
	s.replaceLocked(nsState.ns, kept)
	s.mu.Unlock()

	nsState.digest = digest
	logging.Info("TokenStore", "Loaded %d entries from %s (%d dropped as expired)",
		len(kept), path, len(entries)-len(kept))
	return true, nil
}

// withFileLock runs fn while holding the advisory lock next to path.
func (s *Store) withFileLock(path string, shared bool, fn func() error) error {
	fileLock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	var locked bool
	var err error
	if shared {
		locked, err = fileLock.TryRLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fileLock.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock: timeout after %v", s.lockTimeout)
	}
	defer func() {
		_ = fileLock.Unlock()
	}()

	return fn()
}

// writeFileAtomic writes data to a temporary file in the target directory, syncs it
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
