package tokenstore

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"docgate/pkg/logging"
)

// Namespace is a key prefix separating record kinds inside one Store.
type Namespace string

const (
	// UserNamespace holds per-user (and gateway-issued) token records.
	UserNamespace Namespace = "user_access_token:"
	// TenantNamespace holds application-level token records.
	TenantNamespace Namespace = "tenant_access_token:"
)

// fileName returns the snapshot file name of the namespace.
func (ns Namespace) fileName() string {
	return strings.TrimSuffix(string(ns), ":") + ".json"
}

// Entry is the cache envelope around a record.
type Entry[T any] struct {
	Data T `json:"data"`

	// Timestamp is when the entry was written, unix seconds.
	Timestamp int64 `json:"timestamp"`

	// ExpiresAt is when the cache entry expires, unix seconds.
	ExpiresAt int64 `json:"expiresAt"`
}

// item is what the shared keyspace holds; value is always an *Entry[T] for the
// namespace's T.
type item struct {
	ns    Namespace
	value any
}

// namespace is the type-erased view of a Bucket that the Store needs for sweeping,
// snapshotting and reloading.
type namespace struct {
	ns      Namespace
	evict   func(v any, now time.Time) bool
	encode  func(entries map[string]any) ([]byte, error)
	decode  func(data []byte) (map[string]any, error)
	flushMu sync.Mutex
	digest  [32]byte
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLockTimeout sets how long a flush waits for the snapshot file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// Store is a process-local keyspace of token entries, optionally mirrored to disk.
type Store struct {
	dir         string
	now         func() time.Time
	lockTimeout time.Duration

	mu         sync.RWMutex
	items      map[string]item
	namespaces map[Namespace]*namespace
}

const defaultLockTimeout = 5 * time.Second

// New creates a store persisting to dir. An empty dir keeps everything in memory.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:         dir,
		now:         time.Now,
		lockTimeout: defaultLockTimeout,
		items:       make(map[string]item),
		namespaces:  make(map[Namespace]*namespace),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create token store directory: %w", err)
		}
	}

	return s, nil
}

// Dir returns the snapshot directory, or "" for a memory-only store.
func (s *Store) Dir() string {
	return s.dir
}

// Len returns the number of entries across all namespaces, including entries that
// are due for eviction but not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SweepExpired evicts every entry whose namespace policy says it is done and flushes
// the affected namespaces. It returns the number of evicted entries.
func (s *Store) SweepExpired() (int, error) {
	now := s.now()

	s.mu.Lock()
	touched := make(map[Namespace]bool)
	count := 0
	for key, it := range s.items {
		nsState := s.namespaces[it.ns]
		if nsState == nil || !nsState.evict(it.value, now) {
			continue
		}
		delete(s.items, key)
		touched[it.ns] = true
		count++
	}
	s.mu.Unlock()

	var firstErr error
	for ns := range touched {
		if err := s.flush(ns); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if count > 0 {
		logging.Debug("TokenStore", "Swept %d expired entries", count)
	}
	return count, firstErr
}

// register adds a namespace and loads its snapshot.
func (s *Store) register(nsState *namespace) error {
	s.mu.Lock()
	if _, exists := s.namespaces[nsState.ns]; exists {
		s.mu.Unlock()
		return fmt.Errorf("namespace %q already registered", nsState.ns)
	}
	s.namespaces[nsState.ns] = nsState
	s.mu.Unlock()

	if s.dir == "" {
		return nil
	}

	nsState.flushMu.Lock()
	defer nsState.flushMu.Unlock()
	_, err := s.loadLocked(nsState)
	return err
}

// put stores v under full key and flushes its namespace.
func (s *Store) put(ns Namespace, fullKey string, v any) error {
	s.mu.Lock()
	s.items[fullKey] = item{ns: ns, value: v}
	s.mu.Unlock()
	return s.flush(ns)
}

// get returns the raw entry stored under the full key.
func (s *Store) get(fullKey string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[fullKey]
	if !ok {
		return nil, false
	}
	return it.value, true
}

// remove deletes the full key and flushes; if expected is non-nil the key is only
// removed while it still holds that exact entry.
func (s *Store) remove(ns Namespace, fullKey string, expected any) (bool, error) {
	s.mu.Lock()
	it, ok := s.items[fullKey]
	if !ok || (expected != nil && it.value != expected) {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.items, fullKey)
	s.mu.Unlock()

	return true, s.flush(ns)
}

// keys returns the sorted unprefixed keys of the namespace whose entries are not due
// for eviction.
func (s *Store) keys(ns Namespace) []string {
	now := s.now()

	s.mu.RLock()
	nsState := s.namespaces[ns]
	var out []string
	for key, it := range s.items {
		if it.ns != ns {
			continue
		}
		if nsState != nil && nsState.evict(it.value, now) {
			continue
		}
		out = append(out, strings.TrimPrefix(key, string(ns)))
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

// entriesLocked collects the namespace's entries keyed by full key.
// REQUIRES: s.mu held (read or write).
func (s *Store) entriesLocked(ns Namespace) map[string]any {
	out := make(map[string]any)
	for key, it := range s.items {
		if it.ns == ns {
			out[key] = it.value
		}
	}
	return out
}

// replaceLocked swaps every entry of the namespace for the given set.
// REQUIRES: s.mu held for writing.
func (s *Store) replaceLocked(ns Namespace, entries map[string]any) {
	for key, it := range s.items {
		if it.ns == ns {
			delete(s.items, key)
		}
	}
	for key, v := range entries {
		s.items[key] = item{ns: ns, value: v}
	}
}
