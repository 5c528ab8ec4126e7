package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Siddarth2230/url-shortener/internal/logger"
	"github.com/Siddarth2230/url-shortener/internal/testutils"
	"github.com/Siddarth2230/url-shortener/pkg/idgen"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

type stores struct {
	byAlias *testutils.AliasStore
	byOwner *testutils.OwnerStore
	outbox  *testutils.Outbox
	clicks  *testutils.CounterStore
}

func newStores() stores {
	return stores{
		byAlias: testutils.NewAliasStore(),
		byOwner: testutils.NewOwnerStore(),
		outbox:  testutils.NewOutbox(),
		clicks:  testutils.NewCounterStore(),
	}
}

// recorder counts clicks handed to it.
type recorder struct {
	mu     sync.Mutex
	clicks map[string]int
}

func (r *recorder) RecordClick(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clicks == nil {
		r.clicks = make(map[string]int)
	}
	r.clicks[alias]++
}

func (r *recorder) count(alias string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clicks[alias]
}

type invalidations struct {
	mu      sync.Mutex
	aliases []string
}

func (i *invalidations) Invalidate(alias string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.aliases = append(i.aliases, alias)
}

// fixedGenerator hands out aliases from a list, repeating the last one.
type fixedGenerator struct {
	aliases []string
	calls   int
}

func (g *fixedGenerator) Next(ctx context.Context) (int64, string, error) {
	i := g.calls
	if i >= len(g.aliases) {
		i = len(g.aliases) - 1
	}
	g.calls++
	alias := g.aliases[i]
	id, err := idgen.Decode(alias)
	if err != nil {
		return 0, "", err
	}
	return int64(id), alias, nil
}

func newSnowflakeGenerator(t *testing.T) idgen.Generator {
	t.Helper()
	sf, err := idgen.NewSnowflake(idgen.Options{Lease: idgen.StaticLease(1)})
	require.NoError(t, err)
	return idgen.NewAliasGenerator(sf)
}

func newTestCoordinator(s stores, hot Invalidator) *Coordinator {
	return NewCoordinator(s.byAlias, s.byOwner, s.outbox, fastRetry, hot, logger.Discard())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
