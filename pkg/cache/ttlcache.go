// Package cache provides the bounded LRU+TTL cache shape shared by the
// pipeline's dedup cache and the WhatsApp bridge's quote and outbound-self
// echo caches: timestamped entries with lazy eviction triggered whenever a
// write pushes the cache past its size cap. No LRU/TTL cache library
// appears anywhere in the reference corpus, so this stays on the standard
// library (container/list + map) rather than inventing a dependency.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key      string
	value    any
	expireAt time.Time
}

// TTLCache is a fixed-capacity, TTL-expiring, least-recently-used cache.
// Safe for concurrent use.
type TTLCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxSize  int
	order    *list.List // front = most recently used
	elements map[string]*list.Element
	now      func() time.Time
}

// New creates a cache with the given TTL and maximum entry count.
func New(ttl time.Duration, maxSize int) *TTLCache {
	return &TTLCache{
		ttl:      ttl,
		maxSize:  maxSize,
		order:    list.New(),
		elements: make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Seen reports whether key is already present (and not expired), and as a
// side effect records it if it was absent. This is the dedup idiom: the
// first call for a key returns false (not seen before); every call within
// the TTL afterwards returns true.
func (c *TTLCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		e := el.Value.(*entry)
		if c.now().Before(e.expireAt) {
			c.order.MoveToFront(el)
			return true
		}
		c.order.Remove(el)
		delete(c.elements, key)
	}

	c.insertLocked(key, nil)
	return false
}

// Put records key->value with a fresh TTL, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *TTLCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		c.order.Remove(el)
		delete(c.elements, key)
	}
	c.insertLocked(key, value)
}

func (c *TTLCache) insertLocked(key string, value any) {
	e := &entry{key: key, value: value, expireAt: c.now().Add(c.ttl)}
	el := c.order.PushFront(e)
	c.elements[key] = el

	for c.maxSize > 0 && c.order.Len() > c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.elements, back.Value.(*entry).key)
	}
}

// Get returns the value stored under key, if present and unexpired.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expireAt) {
		c.order.Remove(el)
		delete(c.elements, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Len returns the current number of entries, including any not yet lazily
// evicted for having expired.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
