// Package cache implements the short-TTL extraction cache consulted by
// extractors before repeating expensive metadata fetches.
//
// Entries are visible while now - timestamp <= ttl. Expired entries are
// removed by the read that discovers them; there is no background sweep.
// The cache is advisory: a miss means "recompute", never an error.
//
// Every mutation is persisted through a Store before the call returns. The
// store always writes the cache state as of the moment it runs, so writes
// that complete out of order still leave the latest state on disk.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-media-gate/internal/config"
	"github.com/tbourn/go-media-gate/internal/observability"
	"github.com/tbourn/go-media-gate/internal/workers"
)

// ErrEmptyKey is returned by Set for an empty key.
var ErrEmptyKey = errors.New("cache: empty key")

// Entry is one cached value and the instant it was stored.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// View exposes the live cache state to a Store while it persists.
type View interface {
	Lookup(key string) (Entry, bool)
	Snapshot() map[string]Entry
}

// Store persists cache state.
type Store interface {
	// Load returns the persisted entries.
	Load() (map[string]Entry, error)
	// Sync persists the current state of keys as seen through v. Keys
	// absent from v are removed from storage.
	Sync(keys []string, v View) error
	Close() error
}

// Open returns the Store selected by cfg.Backend.
func Open(cfg config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "snapshot":
		return NewSnapshotStore(cfg.Path), nil
	case "leveldb", "":
		return OpenLevelStore(cfg.Path)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// ExtractionCache is a TTL cache keyed by an opaque string (typically the
// request URL).
type ExtractionCache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	ttl   time.Duration
	store Store
	pool  *workers.Pool

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// New loads persisted entries from store. An unreadable store is logged
// and the cache starts empty.
func New(store Store, pool *workers.Pool, ttl time.Duration) *ExtractionCache {
	entries, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("extraction cache: starting empty")
		entries = map[string]Entry{}
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return &ExtractionCache{
		entries: entries,
		ttl:     ttl,
		store:   store,
		pool:    pool,
		Now:     time.Now,
	}
}

// TTL returns the configured entry lifetime.
func (c *ExtractionCache) TTL() time.Duration { return c.ttl }

// Get returns the value stored under key, or false if it is absent or
// expired. An expired entry is evicted (and the eviction persisted) before
// Get returns.
func (c *ExtractionCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	now := c.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		observability.Lookups.WithLabelValues("cache", "miss").Inc()
		return nil, false
	}
	if now.Sub(e.Timestamp) <= c.ttl {
		observability.Lookups.WithLabelValues("cache", "hit").Inc()
		return e.Data, true
	}

	// Expired: re-check under the write lock, a concurrent Set may have
	// refreshed the entry.
	c.mu.Lock()
	e, ok = c.entries[key]
	switch {
	case !ok:
		c.mu.Unlock()
		observability.Lookups.WithLabelValues("cache", "miss").Inc()
		return nil, false
	case now.Sub(e.Timestamp) <= c.ttl:
		c.mu.Unlock()
		observability.Lookups.WithLabelValues("cache", "hit").Inc()
		return e.Data, true
	}
	delete(c.entries, key)
	c.mu.Unlock()

	observability.Lookups.WithLabelValues("cache", "expired").Inc()
	if err := c.persist(ctx, key); err != nil {
		observability.StoreWritesFailed.WithLabelValues("cache").Inc()
		log.Warn().Err(err).Str("key", key).Msg("extraction cache: persist eviction")
	}
	return nil, false
}

// GetInto decodes the value stored under key into dst.
func (c *ExtractionCache) GetInto(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key, overwriting unconditionally, and persists
// the change. value must be JSON-encodable; json.RawMessage is stored as is.
func (c *ExtractionCache) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	c.mu.Lock()
	c.entries[key] = Entry{Data: data, Timestamp: c.Now()}
	c.mu.Unlock()

	return c.persist(ctx, key)
}

// Delete removes key and persists the removal.
func (c *ExtractionCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.persist(ctx, key)
}

// Clear drops every entry.
func (c *ExtractionCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = map[string]Entry{}
	c.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}
	return c.persist(ctx, keys...)
}

// Len returns the number of stored entries, including expired ones no read
// has discovered yet.
func (c *ExtractionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lookup implements View.
func (c *ExtractionCache) Lookup(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Snapshot implements View.
func (c *ExtractionCache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.entries)
}

func (c *ExtractionCache) persist(ctx context.Context, keys ...string) error {
	return c.pool.Do(ctx, func(context.Context) error {
		return c.store.Sync(keys, c)
	})
}
