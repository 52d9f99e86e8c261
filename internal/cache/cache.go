// Package cache memoizes backend calls by a deterministic fingerprint of
// their parameters. Values are stored as JSON so a persisted cache
// round-trips completions and passages losslessly.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives a deterministic cache key from the call parameters:
// backend name, normalized prompt or query, and sampling parameters. Parts
// are length-prefixed before hashing so adjacent parts cannot collide.
func Fingerprint(parts ...any) string {
	h := xxhash.New()
	for _, p := range parts {
		var enc []byte
		switch t := p.(type) {
		case string:
			enc = []byte(t)
		case []byte:
			enc = t
		default:
			// Canonical JSON: encoding/json sorts map keys.
			b, err := json.Marshal(p)
			if err != nil {
				enc = []byte(fmt.Sprintf("%#v", p))
			} else {
				enc = b
			}
		}
		var lenBuf [8]byte
		n := len(enc)
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		h.Write(lenBuf[:])
		h.Write(enc)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Cache is a process-scoped memoization table. Entries never expire unless
// explicitly cleared. Concurrent misses on the same key may both compute;
// the last store wins, which is acceptable because values are pure
// functions of the key.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]byte

	store *Store // optional persistence; nil for memory-only
}

// New creates a memory-only cache.
func New() *Cache {
	return &Cache{entries: make(map[string][]byte)}
}

// NewPersistent creates a cache backed by the given on-disk store.
// Existing entries are loaded up front; stores write through.
func NewPersistent(store *Store) (*Cache, error) {
	entries, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading cache entries: %w", err)
	}
	return &Cache{entries: entries, store: store}, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops all entries, including persisted ones.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	if c.store != nil {
		return c.store.DeleteAll()
	}
	return nil
}

// lookup returns the raw entry for the fingerprint.
func (c *Cache) lookup(fp string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[fp]
	return b, ok
}

// put stores the raw entry, writing through to disk when persistent.
func (c *Cache) put(fp string, value []byte) error {
	c.mu.Lock()
	c.entries[fp] = value
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Put(fp, value); err != nil {
			return fmt.Errorf("persisting cache entry: %w", err)
		}
	}
	return nil
}

// GetOrCompute returns the cached value for the fingerprint, or invokes
// compute exactly once (in a single-threaded run), stores its result, and
// returns it. A compute error is returned as-is and nothing is stored:
// cache misses are not errors, failed computations are not cached.
func GetOrCompute[T any](c *Cache, fingerprint string, compute func() (T, error)) (T, error) {
	var zero T
	if raw, ok := c.lookup(fingerprint); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, fmt.Errorf("decoding cached value: %w", err)
		}
		return v, nil
	}

	v, err := compute()
	if err != nil {
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encoding value for cache: %w", err)
	}
	if err := c.put(fingerprint, raw); err != nil {
		return zero, err
	}

	// Decode the stored bytes rather than returning v directly so hits
	// and misses observe bit-identical values.
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decoding stored value: %w", err)
	}
	return out, nil
}
