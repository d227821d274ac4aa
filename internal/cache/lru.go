package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var errTenantRequired = errors.New("tenantID is required")

// LRUCache is an in-process cache with per-entry TTL and a size bound.
// It is the community-tier cache and the L1 of TwoPhaseCache.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, at time.Time) bool {
	return !at.IsZero() && now.After(at)
}

// Get returns the value for key, or nil if absent or expired.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[tenantKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if expired(time.Now(), entry.expiresAt) {
		c.remove(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}

	full := tenantKey(tenantID, key)
	exp := expiry(time.Now(), ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[full]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = exp
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[full] = c.order.PushFront(&lruEntry{key: full, value: value, expiresAt: exp})

	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[tenantKey(tenantID, key)]; ok {
		c.remove(elem)
	}
	return nil
}

// IncrementCounter counts calls within a fixed window that opens on the first call.
// Expired windows of other keys are swept on the way.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, errTenantRequired
	}

	full := tenantKey(tenantID, "counter:"+key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.counters[full]
	if ok && !now.After(entry.expiresAt) {
		entry.count++
		return entry.count, nil
	}

	if len(c.counters) >= c.maxSize {
		for k, e := range c.counters {
			if now.After(e.expiresAt) {
				delete(c.counters, k)
			}
		}
	}

	c.counters[full] = &counterEntry{count: 1, expiresAt: now.Add(window)}
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns the number of entries and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}
