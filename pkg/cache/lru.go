package cache

import (
	"sync"
	"time"
)

// entry is a node of the recency list.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // zero: never
	prev      *entry[V]
	next      *entry[V]
}

// LRUCache is a process-local, size-bounded cache keyed by string. Entries
// older than the configured TTL read as absent.
type LRUCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*entry[V]
	// sentinels: head.next is most recent, tail.prev least recent
	head, tail *entry[V]
}

// NewLRUCache creates a cache holding at most capacity entries. ttl <= 0
// disables expiry.
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	if capacity <= 0 {
		capacity = 1000
	}
	c := &LRUCache[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*entry[V], capacity),
		head:     &entry[V]{},
		tail:     &entry[V]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the live value for key and marks it most recently used.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.stale(e) {
		c.drop(e)
		return zero, false
	}
	c.unlink(e)
	c.pushFront(e)
	return e.value, true
}

// Put stores value under key and restarts its TTL, evicting the least
// recently used entry when full.
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.unlink(e)
		c.pushFront(e)
		return
	}
	if len(c.items) >= c.capacity {
		if lru := c.tail.prev; lru != c.head {
			c.drop(lru)
		}
	}
	e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	c.pushFront(e)
	c.items[key] = e
}

// Peek is Get without the recency update.
func (c *LRUCache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || c.stale(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key and reports whether it was present.
func (c *LRUCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if ok {
		c.drop(e)
	}
	return ok
}

func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len counts entries, including expired ones not yet reclaimed.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache[V]) stale(e *entry[V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *LRUCache[V]) drop(e *entry[V]) {
	c.unlink(e)
	delete(c.items, e.key)
}

func (c *LRUCache[V]) unlink(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *LRUCache[V]) pushFront(e *entry[V]) {
	first := c.head.next
	e.next = first
	e.prev = c.head
	c.head.next = e
	first.prev = e
}
