package clicks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

// MemoryBuffer is a process-local set of per-alias accumulators. Take
// retires an alias's counter and removes it from the map, so aliases that
// stop receiving clicks do not stay resident. Adds never block.
type MemoryBuffer struct {
	m sync.Map // alias -> *atomic.Int64
}

// retired marks a counter that has been taken and unlinked. An Add that
// still holds it must start over on a fresh counter.
const retired = math.MinInt64

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{}
}

func (b *MemoryBuffer) counter(alias string) *atomic.Int64 {
	if v, ok := b.m.Load(alias); ok {
		return v.(*atomic.Int64)
	}
	v, _ := b.m.LoadOrStore(alias, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (b *MemoryBuffer) Add(alias string, delta int64) {
	for {
		c := b.counter(alias)
		for {
			v := c.Load()
			if v == retired {
				// Take may not have unlinked it yet.
				b.m.CompareAndDelete(alias, c)
				break
			}
			if c.CompareAndSwap(v, v+delta) {
				return
			}
		}
	}
}

// Take atomically reads alias's delta and drops its counter.
func (b *MemoryBuffer) Take(alias string) int64 {
	v, ok := b.m.Load(alias)
	if !ok {
		return 0
	}
	c := v.(*atomic.Int64)
	for {
		n := c.Load()
		if n == retired {
			return 0
		}
		if c.CompareAndSwap(n, retired) {
			b.m.CompareAndDelete(alias, c)
			return n
		}
	}
}

// Get returns the buffered delta without taking it.
func (b *MemoryBuffer) Get(alias string) int64 {
	v, ok := b.m.Load(alias)
	if !ok {
		return 0
	}
	if n := v.(*atomic.Int64).Load(); n != retired {
		return n
	}
	return 0
}

// Len counts resident counters.
func (b *MemoryBuffer) Len() int {
	n := 0
	b.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Pending lists aliases with a non-zero delta, sorted.
func (b *MemoryBuffer) Pending() []string {
	var out []string
	b.m.Range(func(k, v any) bool {
		if n := v.(*atomic.Int64).Load(); n != 0 && n != retired {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}

const (
	clickKeyPrefix = "url_click:"
	dirtySetKey    = "url_click:dirty"
)

// RedisBuffer is the shared delta buffer. Each alias's delta lives in
// url_click:<alias>; aliases with a delta are tracked in url_click:dirty.
type RedisBuffer struct {
	client *redis.Client
}

func NewRedisBuffer(client *redis.Client) *RedisBuffer {
	return &RedisBuffer{client: client}
}

func clickKey(alias string) string { return clickKeyPrefix + alias }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrCacheUnavailable, op, err)
}

// Add increments alias's shared delta and marks it dirty in one transaction.
func (b *RedisBuffer) Add(ctx context.Context, alias string, delta int64) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.IncrBy(ctx, clickKey(alias), delta)
		p.SAdd(ctx, dirtySetKey, alias)
		return nil
	})
	if err != nil {
		return unavailable("add", err)
	}
	return nil
}

// Restore puts back a delta that could not be applied. It is an add, so
// clicks recorded meanwhile are kept.
func (b *RedisBuffer) Restore(ctx context.Context, alias string, delta int64) error {
	return b.Add(ctx, alias, delta)
}

// Pending lists dirty aliases.
func (b *RedisBuffer) Pending(ctx context.Context) ([]string, error) {
	aliases, err := b.client.SMembers(ctx, dirtySetKey).Result()
	if err != nil {
		return nil, unavailable("pending", err)
	}
	sort.Strings(aliases)
	return aliases, nil
}

// Take atomically reads and removes alias's shared delta.
func (b *RedisBuffer) Take(ctx context.Context, alias string) (int64, error) {
	var get *redis.StringCmd
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, clickKey(alias))
		p.Del(ctx, clickKey(alias))
		p.SRem(ctx, dirtySetKey, alias)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, unavailable("take", err)
	}
	s, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("take", err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt click delta for %s: %w", alias, err)
	}
	return n, nil
}

// Get returns alias's shared delta without taking it.
func (b *RedisBuffer) Get(ctx context.Context, alias string) (int64, error) {
	n, err := b.client.Get(ctx, clickKey(alias)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", err)
	}
	return n, nil
}
