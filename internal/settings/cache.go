// Package settings is a read-through cache over internal/database's flat
// global_settings key/value repository (spec §4.8). Keys navigate with
// dotted paths ("engines.inactivityTimeoutMinutes"); a miss falls back to a
// compiled-in default and lazily persists that default back to the
// repository. A write to any key (e.g. "engines" or
// "engines.inactivityTimeoutMinutes") notifies the subscribers of its
// top-level category so runtime state stays in sync without a restart.
//
// Grounded on the teacher's internal/cache.Cache: same RWMutex-guarded map
// shape, same hit/miss bookkeeping, adapted from a TTL-expiring read cache
// into a read-through cache backed by a repository instead of an upstream
// API call, with the TTL/cleanup-loop machinery dropped (settings values
// don't expire; they change only on explicit write) and replaced with the
// category-notification mechanism spec §4.8 requires.
package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/audiobook-maker/engine-core/internal/database"
)

// Repository is the subset of *database.DB the cache depends on, so tests
// can substitute an in-memory fake.
type Repository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// Cache is the read-through settings cache.
type Cache struct {
	repo     Repository
	defaults map[string]any

	mu     sync.RWMutex
	values map[string]any

	notifyMu sync.Mutex
	notify   map[string][]chan struct{}

	stats Stats
}

// Stats tracks cache performance, mirroring the teacher's cache.Stats shape.
type Stats struct {
	mu     sync.Mutex
	Hits   int64
	Misses int64
}

// New builds a cache with the given compiled-in default table (dotted key
// -> Go value, JSON-marshalable). Call Warm to pre-populate from the
// repository at boot (ResetStuck-equivalent for settings).
func New(repo Repository, defaults map[string]any) *Cache {
	return &Cache{
		repo:     repo,
		defaults: defaults,
		values:   make(map[string]any),
		notify:   make(map[string][]chan struct{}),
	}
}

// Warm loads every persisted key into memory up front so the first request
// of a process's lifetime isn't a database round trip per key.
func (c *Cache) Warm(ctx context.Context) error {
	all, err := c.repo.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("warm settings cache: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, raw := range all {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue // corrupt row; next Get will fall through to default
		}
		c.values[key] = v
	}
	return nil
}

// Get returns the raw value for key, falling back to the compiled-in
// default and persisting it back on a cache+repository miss.
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	c.mu.RLock()
	if v, ok := c.values[key]; ok {
		c.mu.RUnlock()
		c.recordHit()
		return v, nil
	}
	c.mu.RUnlock()
	c.recordMiss()

	raw, err := c.repo.GetSetting(ctx, key)
	if err == nil {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("unmarshal setting %s: %w", key, err)
		}
		c.store(key, v)
		return v, nil
	}
	if err != database.ErrNotFound {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}

	def, ok := c.defaults[key]
	if !ok {
		return nil, fmt.Errorf("no default registered for setting %s", key)
	}
	if err := c.persist(ctx, key, def); err != nil {
		return nil, err
	}
	c.store(key, def)
	return def, nil
}

// Set persists value for key and updates the cache, then notifies every
// subscriber of key's top-level category (the part before the first dot,
// or the whole key if it has none).
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if err := c.persist(ctx, key, value); err != nil {
		return err
	}
	c.store(key, value)
	c.fireNotify(key)
	return nil
}

func (c *Cache) persist(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", key, err)
	}
	if err := c.repo.SetSetting(ctx, key, string(data)); err != nil {
		return fmt.Errorf("persist setting %s: %w", key, err)
	}
	return nil
}

func (c *Cache) store(key string, value any) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Subscribe returns a channel signaled every time Set is called with the
// given category (typically a top-level dotted prefix such as "engines").
// Engine managers use this to re-sync inactivity timeouts and keep-warm
// exemptions without polling.
func (c *Cache) Subscribe(category string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.notifyMu.Lock()
	c.notify[category] = append(c.notify[category], ch)
	c.notifyMu.Unlock()
	return ch
}

func (c *Cache) fireNotify(key string) {
	category := categoryOf(key)
	c.notifyMu.Lock()
	subs := c.notify[category]
	c.notifyMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// categoryOf returns the top-level dotted segment of key.
func categoryOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i]
		}
	}
	return key
}

func (c *Cache) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

// GetStats returns a snapshot of cache hit/miss counters.
func (c *Cache) GetStats() Stats {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	return Stats{Hits: c.stats.Hits, Misses: c.stats.Misses}
}
