package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_Basic(t *testing.T) {
	cache := NewLRUCache[int](2, 0)

	cache.Put("a", 1)
	cache.Put("b", 2)

	val, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, val)

	// Cache is full, add "c" -> should evict "b" (LRU)
	cache.Put("c", 3)

	_, ok = cache.Get("b")
	assert.False(t, ok, "expected 'b' to be evicted")

	_, ok = cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	cache := NewLRUCache[int](2, 0)

	cache.Put("a", 1)
	cache.Put("a", 10)

	val, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, val)
	assert.Equal(t, 1, cache.Len())
}

func TestLRUCache_PeekDoesNotPromote(t *testing.T) {
	cache := NewLRUCache[int](2, 0)
	cache.Put("a", 1)
	cache.Put("b", 2)

	_, ok := cache.Peek("a")
	assert.True(t, ok)

	cache.Put("c", 3)
	_, ok = cache.Peek("a")
	assert.False(t, ok, "peek must not save 'a' from eviction")
}

func TestLRUCache_Delete(t *testing.T) {
	cache := NewLRUCache[int](4, 0)
	cache.Put("a", 1)

	assert.True(t, cache.Delete("a"))
	assert.False(t, cache.Delete("a"))
	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Put("x", 1)
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewLRUCache[int](10, time.Minute)
	cache.now = func() time.Time { return now }

	cache.Put("a", 1)

	now = now.Add(59 * time.Second)
	_, ok := cache.Get("a")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len(), "expired entry is reclaimed on read")

	// Put restarts the clock
	cache.Put("b", 2)
	now = now.Add(30 * time.Second)
	cache.Put("b", 3)
	now = now.Add(45 * time.Second)
	val, ok := cache.Peek("b")
	assert.True(t, ok)
	assert.Equal(t, 3, val)
}

func TestLRUCache_Concurrency(t *testing.T) {
	cache := NewLRUCache[int](100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key_%d_%d", id, j)
				cache.Put(key, j)
				cache.Get(key)
				if j%7 == 0 {
					cache.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 100)
}
