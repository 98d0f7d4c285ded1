// Package cache provides the bounded TTL store that deduplicates discovered
// pools and carries their validation state.
package cache

import (
	"sort"
	"sync"
	"time"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/observability"
)

// Default configuration values.
const (
	DefaultMaxSize    = 1000
	DefaultTTL        = 30 * time.Minute
	DefaultMaxHistory = 50

	// evictFraction of the oldest entries is removed in one pass when the
	// cache is full. Bulk eviction trades a small capacity overshoot for
	// fewer eviction passes.
	evictFraction = 0.2
)

// Entry wraps a cached value with its validation bookkeeping.
type Entry struct {
	Value                any
	InsertedAt           time.Time
	ExpiresAt            time.Time
	ValidationAttempts   int
	LastLiquidityCheckAt time.Time
	LiquidityHistory     []float64
	State                domain.ValidationState
	RejectReason         string
}

// expired reports whether the entry's TTL has elapsed.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache is a bounded TTL store. Expired entries are treated as absent and
// lazily purged on access; when the cache is full the oldest-inserted ~20%
// is evicted in one pass before the new entry is added.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxSize    int
	defaultTTL time.Duration
	maxHistory int

	evictions uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxSize bounds the number of entries. Non-positive values keep the
// default.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithTTL sets the default entry lifetime. Non-positive values keep the
// default.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithMaxHistory bounds the liquidity history kept per entry. Non-positive
// values keep the default.
func WithMaxHistory(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		maxSize:    DefaultMaxSize,
		defaultTTL: DefaultTTL,
		maxHistory: DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, or false when absent or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookupLocked(key, time.Now())
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetEntry returns a copy of the full entry for key.
func (c *Cache) GetEntry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookupLocked(key, time.Now())
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Has reports whether key is present and unexpired.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookupLocked(key, time.Now())
	return ok
}

// Set stores value under key. A non-positive ttl uses the cache default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = &Entry{
		Value:      value,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
		State:      domain.StatePending,
	}
	observability.UpdateCacheSize(len(c.entries))
}

// SetIfAbsent stores value under key only when no live entry exists. The
// check and the insert happen under one lock, so exactly one of any number
// of concurrent callers observes true. A non-positive ttl uses the cache
// default.
func (c *Cache) SetIfAbsent(key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookupLocked(key, now); ok {
		return false
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = &Entry{
		Value:      value,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
		State:      domain.StatePending,
	}
	observability.UpdateCacheSize(len(c.entries))
	return true
}

// GetOrCompute returns the cached value for key, or invokes factory, caches
// the result and returns it. Two concurrent misses may both invoke factory;
// single-flight is deliberately not guaranteed.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, factory func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := factory()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Update mutates the entry for key under the cache lock. It is a no-op when
// the key is absent or expired. The liquidity history is re-bounded after
// the mutation.
func (c *Cache) Update(key string, fn func(*Entry)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookupLocked(key, time.Now())
	if !ok {
		return false
	}
	fn(e)
	if len(e.LiquidityHistory) > c.maxHistory {
		e.LiquidityHistory = e.LiquidityHistory[len(e.LiquidityHistory)-c.maxHistory:]
	}
	return true
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	observability.UpdateCacheSize(len(c.entries))
}

// Keys returns the keys of all live entries.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Evictions returns the total number of entries removed by capacity
// eviction since creation.
func (c *Cache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// lookupLocked returns the live entry for key, lazily purging it when
// expired.
func (c *Cache) lookupLocked(key string, now time.Time) (*Entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

// evictOldestLocked removes the oldest-inserted ~20% of entries (at least
// one).
func (c *Cache) evictOldestLocked() {
	n := int(float64(c.maxSize) * evictFraction)
	if n < 1 {
		n = 1
	}

	type aged struct {
		key        string
		insertedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, insertedAt: e.InsertedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].insertedAt.Before(all[j].insertedAt)
	})

	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
		c.evictions++
	}
	observability.RecordCacheEvictions(n)
}
