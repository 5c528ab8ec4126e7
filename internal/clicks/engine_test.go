package clicks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddarth2230/url-shortener/internal/logger"
	"github.com/Siddarth2230/url-shortener/internal/testutils"
)

// faultyShared wraps a SharedBuffer and can fail Restore.
type faultyShared struct {
	SharedBuffer
	mu          sync.Mutex
	failRestore bool
}

func (f *faultyShared) Restore(ctx context.Context, alias string, delta int64) error {
	f.mu.Lock()
	fail := f.failRestore
	f.mu.Unlock()
	if fail {
		return testutils.ErrInjected
	}
	return f.SharedBuffer.Restore(ctx, alias, delta)
}

func clickConcurrently(e *Engine, alias string, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.RecordClick(alias)
		}()
	}
	wg.Wait()
}

func total(t *testing.T, s *testutils.CounterStore, alias string) int64 {
	t.Helper()
	n, err := s.Total(context.Background(), alias)
	require.NoError(t, err)
	return n
}

func TestEngine_ConcurrentClicksFlushExactly(t *testing.T) {
	store := testutils.NewCounterStore()
	e := NewEngine(store, nil, Options{}, logger.Discard())

	clickConcurrently(e, "abc123", 1000)
	require.NoError(t, e.Flush(context.Background()))

	assert.Equal(t, int64(1000), total(t, store, "abc123"))
	assert.Zero(t, e.Buffered("abc123"))
}

func TestEngine_SharedBufferFlushExactly(t *testing.T) {
	store := testutils.NewCounterStore()
	shared, mr := setupRedisBuffer(t)
	e := NewEngine(store, shared, Options{}, logger.Discard())

	clickConcurrently(e, "abc123", 1000)
	clickConcurrently(e, "other", 10)
	require.NoError(t, e.Flush(context.Background()))

	assert.Equal(t, int64(1000), total(t, store, "abc123"))
	assert.Equal(t, int64(10), total(t, store, "other"))
	assert.False(t, mr.Exists("url_click:abc123"))
}

func TestEngine_FailedApplyIsRetriedOnce(t *testing.T) {
	for _, withShared := range []bool{false, true} {
		name := "local"
		if withShared {
			name = "shared"
		}
		t.Run(name, func(t *testing.T) {
			store := testutils.NewCounterStore()
			var shared SharedBuffer
			if withShared {
				shared, _ = setupRedisBuffer(t)
			}
			e := NewEngine(store, shared, Options{}, logger.Discard())

			clickConcurrently(e, "abc123", 1000)

			store.FailNext("increment", 1, nil)
			assert.Error(t, e.Flush(context.Background()))
			assert.Zero(t, total(t, store, "abc123"))

			require.NoError(t, e.Flush(context.Background()))
			assert.Equal(t, int64(1000), total(t, store, "abc123"))

			// nothing left to apply twice
			require.NoError(t, e.Flush(context.Background()))
			assert.Equal(t, int64(1000), total(t, store, "abc123"))
		})
	}
}

func TestEngine_SharedUnavailableAppliesDirectly(t *testing.T) {
	store := testutils.NewCounterStore()
	shared, mr := setupRedisBuffer(t)
	e := NewEngine(store, shared, Options{}, logger.Discard())

	mr.Close()
	clickConcurrently(e, "abc123", 50)

	// the pending scan fails, but local deltas still reach the store
	err := e.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(50), total(t, store, "abc123"))
	assert.Zero(t, e.Buffered("abc123"))
}

func TestEngine_EverythingDownKeepsDeltaLocally(t *testing.T) {
	store := testutils.NewCounterStore()
	shared, mr := setupRedisBuffer(t)
	e := NewEngine(store, shared, Options{}, logger.Discard())

	mr.Close()
	store.FailAlways("increment", nil)
	clickConcurrently(e, "abc123", 20)

	assert.Error(t, e.Flush(context.Background()))
	assert.Equal(t, int64(20), e.Buffered("abc123"))

	// recording keeps working while stores are down
	e.RecordClick("abc123")
	assert.Equal(t, int64(21), e.Buffered("abc123"))
}

func TestEngine_RestoreFailureFallsBackToLocal(t *testing.T) {
	store := testutils.NewCounterStore()
	redisBuf, _ := setupRedisBuffer(t)
	shared := &faultyShared{SharedBuffer: redisBuf, failRestore: true}
	e := NewEngine(store, shared, Options{}, logger.Discard())

	clickConcurrently(e, "abc123", 100)
	store.FailNext("increment", 1, nil)
	assert.Error(t, e.Flush(context.Background()))
	assert.Equal(t, int64(100), e.Buffered("abc123"))

	shared.mu.Lock()
	shared.failRestore = false
	shared.mu.Unlock()

	require.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, int64(100), total(t, store, "abc123"))
}

func TestEngine_ConcurrentFlushesDoNotDoubleCount(t *testing.T) {
	store := testutils.NewCounterStore()
	shared, _ := setupRedisBuffer(t)
	e := NewEngine(store, shared, Options{Parallelism: 4}, logger.Discard())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = e.Flush(context.Background())
				}
			}
		}()
	}

	clickConcurrently(e, "abc123", 2000)
	close(stop)
	wg.Wait()

	require.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, int64(2000), total(t, store, "abc123"))
}

func TestEngine_ThresholdTriggersFlush(t *testing.T) {
	store := testutils.NewCounterStore()
	e := NewEngine(store, nil, Options{FlushInterval: time.Hour, Threshold: 10}, logger.Discard())
	e.Start()
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	for i := 0; i < 10; i++ {
		e.RecordClick("abc123")
	}

	assert.Eventually(t, func() bool {
		n, _ := store.Total(context.Background(), "abc123")
		return n == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_IntervalTriggersFlush(t *testing.T) {
	store := testutils.NewCounterStore()
	e := NewEngine(store, nil, Options{FlushInterval: 20 * time.Millisecond}, logger.Discard())
	e.Start()
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	e.RecordClick("abc123")
	assert.Eventually(t, func() bool {
		n, _ := store.Total(context.Background(), "abc123")
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_CloseFlushes(t *testing.T) {
	store := testutils.NewCounterStore()
	e := NewEngine(store, nil, Options{FlushInterval: time.Hour}, logger.Discard())
	e.Start()

	clickConcurrently(e, "abc123", 7)
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, int64(7), total(t, store, "abc123"))

	// idempotent
	require.NoError(t, e.Close(context.Background()))
}

func TestEngine_CloseWithoutStart(t *testing.T) {
	store := testutils.NewCounterStore()
	e := NewEngine(store, nil, Options{}, logger.Discard())
	e.RecordClick("abc123")

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, int64(1), total(t, store, "abc123"))
}
