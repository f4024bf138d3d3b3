// Package cache provides a bounded in-process key-value cache with LRU
// eviction and per-entry TTL expiry, plus a Manager that aggregates metrics
// across named cache instances and runs their background sweeps.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the background sweep removes expired
// entries that are never re-accessed.
const DefaultSweepInterval = 5 * time.Minute

type entry[K comparable, V any] struct {
	key        K
	value      V
	expiresAt  time.Time
	lastAccess time.Time
}

// Cache is a fixed-capacity LRU cache with wall-clock TTL expiry.
// Expiry is checked lazily on Get/Has; RemoveExpired sweeps proactively.
// All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	name       string
	maxSize    int
	defaultTTL time.Duration

	// order front = least recently used, back = most recently used
	order *list.List
	index map[K]*list.Element

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	now func() time.Time // overridable in tests
}

// New creates a cache with the given name, capacity, and default TTL applied
// when Set is called without a per-entry TTL. maxSize must be > 0.
func New[K comparable, V any](name string, maxSize int, defaultTTL time.Duration) *Cache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache[K, V]{
		name:       name,
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		order:      list.New(),
		index:      make(map[K]*list.Element),
		now:        time.Now,
	}
}

// Name returns the cache's registered name.
func (c *Cache[K, V]) Name() string { return c.name }

// Get returns the value for key, or the zero value and false on a miss.
// An expired entry is removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	el, ok := c.index[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.expirations++
		c.misses++
		return zero, false
	}
	e.lastAccess = c.now()
	c.order.MoveToBack(el)
	c.hits++
	return e.value, true
}

// Has reports whether key is present and unexpired. It counts as a lookup
// and refreshes recency like Get.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		c.misses++
		return false
	}
	e := el.Value.(*entry[K, V])
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.expirations++
		c.misses++
		return false
	}
	e.lastAccess = c.now()
	c.order.MoveToBack(el)
	c.hits++
	return true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[K, V]) Set(key K, value V) { c.SetTTL(key, value, c.defaultTTL) }

// SetTTL stores value under key with an explicit TTL. Setting an existing key
// replaces its value and refreshes recency. When the cache is at capacity a
// new key evicts the least recently used entry first.
func (c *Cache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = now.Add(ttl)
		e.lastAccess = now
		c.order.MoveToBack(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
	el := c.order.PushBack(&entry[K, V]{key: key, value: value, expiresAt: now.Add(ttl), lastAccess: now})
	c.index[key] = el
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes every entry. Counters are preserved.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[K]*list.Element)
}

// Len returns the current number of entries, including any not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RemoveExpired proactively removes all expired entries and returns how many
// were removed. Called by the Manager's background sweep.
func (c *Cache[K, V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry[K, V]).expiresAt) {
			c.removeElement(el)
			c.expirations++
			removed++
		}
		el = next
	}
	return removed
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.index, el.Value.(*entry[K, V]).key)
}

// Metrics is a point-in-time snapshot of a cache's counters.
type Metrics struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Size        int    `json:"size"`
	MaxSize     int    `json:"max_size"`
	HitRate     string `json:"hit_rate"`
}

// Metrics returns a snapshot of the cache counters. HitRate is "0%" when
// there have been no lookups yet.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Metrics{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        c.order.Len(),
		MaxSize:     c.maxSize,
		HitRate:     "0%",
	}
	if total := c.hits + c.misses; total > 0 {
		m.HitRate = fmt.Sprintf("%.2f%%", float64(c.hits)/float64(total)*100)
	}
	return m
}
