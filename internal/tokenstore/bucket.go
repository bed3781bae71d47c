package tokenstore

import (
	"encoding/json"
	"fmt"
	"time"

	"docgate/internal/token"
	"docgate/pkg/logging"
)

// Record is implemented by every value a Bucket can hold.
type Record interface {
	// CacheExpiry is the default eviction time of a freshly written entry.
	CacheExpiry(now time.Time) time.Time
}

// EvictFunc decides whether an entry is done at the given instant.
type EvictFunc[T Record] func(e *Entry[T], now time.Time) bool

// EvictOnEntryExpiry evicts an entry once its cache clock runs out.
func EvictOnEntryExpiry[T Record](e *Entry[T], now time.Time) bool {
	return e.ExpiresAt <= now.Unix()
}

// EvictOnRefreshLapse keeps user records until they can no longer be refreshed.
func EvictOnRefreshLapse(e *Entry[token.UserTokenRecord], now time.Time) bool {
	return e.Data.RefreshLapsed(now)
}

// Bucket is a typed view of one namespace of a Store.
type Bucket[T Record] struct {
	store *Store
	ns    Namespace
	evict EvictFunc[T]
}

// NewBucket registers the namespace with the store and loads its snapshot.
func NewBucket[T Record](s *Store, ns Namespace, evict EvictFunc[T]) (*Bucket[T], error) {
	b := &Bucket[T]{store: s, ns: ns, evict: evict}

	nsState := &namespace{
		ns: ns,
		evict: func(v any, now time.Time) bool {
			e, ok := v.(*Entry[T])
			return !ok || evict(e, now)
		},
		encode: func(entries map[string]any) ([]byte, error) {
			typed := make(map[string]*Entry[T], len(entries))
			for key, v := range entries {
				e, ok := v.(*Entry[T])
				if !ok {
					return nil, fmt.Errorf("unexpected entry type %T under %s", v, key)
				}
				typed[key] = e
			}
			return json.MarshalIndent(typed, "", "  ")
		},
		decode: func(data []byte) (map[string]any, error) {
			var typed map[string]*Entry[T]
			if err := json.Unmarshal(data, &typed); err != nil {
				return nil, err
			}
			out := make(map[string]any, len(typed))
			for key, e := range typed {
				if e != nil {
					out[key] = e
				}
			}
			return out, nil
		},
	}

	if err := s.register(nsState); err != nil {
		return nil, err
	}
	return b, nil
}

// NewUserBucket returns the bucket for user token records.
func NewUserBucket(s *Store) (*Bucket[token.UserTokenRecord], error) {
	return NewBucket[token.UserTokenRecord](s, UserNamespace, EvictOnRefreshLapse)
}

// NewTenantBucket returns the bucket for tenant token records.
func NewTenantBucket(s *Store) (*Bucket[token.TenantTokenRecord], error) {
	return NewBucket[token.TenantTokenRecord](s, TenantNamespace, EvictOnEntryExpiry[token.TenantTokenRecord])
}

func (b *Bucket[T]) fullKey(key string) string {
	return string(b.ns) + key
}

// Get returns the record stored under key. An entry that its namespace policy
// considers done is purged and reported as not found.
func (b *Bucket[T]) Get(key string) (T, bool) {
	var zero T

	e, ok := b.GetEntry(key)
	if !ok {
		return zero, false
	}
	return e.Data, true
}

// GetEntry is Get returning the whole cache envelope.
func (b *Bucket[T]) GetEntry(key string) (Entry[T], bool) {
	full := b.fullKey(key)

	v, ok := b.store.get(full)
	if !ok {
		return Entry[T]{}, false
	}
	e, ok := v.(*Entry[T])
	if !ok {
		return Entry[T]{}, false
	}

	if b.evict(e, b.store.now()) {
		if _, err := b.store.remove(b.ns, full, v); err != nil {
			logging.Warn("TokenStore", "Failed to purge expired entry %s: %v", logging.TruncateKey(key), err)
		} else {
			logging.Debug("TokenStore", "Purged expired entry %s from %s", logging.TruncateKey(key), b.ns)
		}
		return Entry[T]{}, false
	}
	return *e, true
}

// Put stores rec under key. A positive ttl overrides the record's own cache expiry.
func (b *Bucket[T]) Put(key string, rec T, ttl time.Duration) error {
	now := b.store.now()

	expiresAt := rec.CacheExpiry(now)
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	e := &Entry[T]{
		Data:      rec,
		Timestamp: now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
	if err := b.store.put(b.ns, b.fullKey(key), e); err != nil {
		return err
	}

	logging.Debug("TokenStore", "Stored %s%s (cache expiry %s)",
		b.ns, logging.TruncateKey(key), expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// Delete removes key and reports whether it was present.
func (b *Bucket[T]) Delete(key string) (bool, error) {
	removed, err := b.store.remove(b.ns, b.fullKey(key), nil)
	if removed {
		logging.Debug("TokenStore", "Deleted %s%s", b.ns, logging.TruncateKey(key))
	}
	return removed, err
}

// DeleteIf removes the entry under key only while its record satisfies match. A
// concurrent Put that replaced the entry makes it a no-op.
func (b *Bucket[T]) DeleteIf(key string, match func(T) bool) (bool, error) {
	full := b.fullKey(key)

	v, ok := b.store.get(full)
	if !ok {
		return false, nil
	}
	e, ok := v.(*Entry[T])
	if !ok || !match(e.Data) {
		return false, nil
	}

	removed, err := b.store.remove(b.ns, full, v)
	if removed {
		logging.Debug("TokenStore", "Deleted %s%s", b.ns, logging.TruncateKey(key))
	}
	return removed, err
}

// Keys lists the keys of the namespace whose entries are still live.
func (b *Bucket[T]) Keys() []string {
	return b.store.keys(b.ns)
}

// Find returns the first live key whose record satisfies match. Iteration order
// follows Keys.
func (b *Bucket[T]) Find(match func(T) bool) (string, T, bool) {
	var zero T
	for _, key := range b.Keys() {
		rec, ok := b.Get(key)
		if ok && match(rec) {
			return key, rec, true
		}
	}
	return "", zero, false
}
