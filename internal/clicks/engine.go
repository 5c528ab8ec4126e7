// Package clicks buffers redirect clicks and flushes them to the durable
// counter store. Every recorded click reaches the durable total at least once.
package clicks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Siddarth2230/url-shortener/pkg/metrics"
)

// CounterStore is the durable per-alias total.
type CounterStore interface {
	Increment(ctx context.Context, alias string, delta int64) error
	Total(ctx context.Context, alias string) (int64, error)
}

// SharedBuffer is a fast-store delta buffer shared by every instance.
type SharedBuffer interface {
	Add(ctx context.Context, alias string, delta int64) error
	Pending(ctx context.Context) ([]string, error)
	Take(ctx context.Context, alias string) (int64, error)
	Restore(ctx context.Context, alias string, delta int64) error
}

type Options struct {
	FlushInterval time.Duration
	// Threshold triggers an early flush after this many clicks; 0 disables.
	Threshold    int64
	ApplyTimeout time.Duration
	Parallelism  int
}

func (o *Options) defaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = 2 * time.Second
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 8
	}
}

// Engine is the click-count write-back cache.
type Engine struct {
	local  *MemoryBuffer
	shared SharedBuffer
	store  CounterStore
	opts   Options
	logger *slog.Logger

	flights    singleflight.Group
	sinceFlush atomic.Int64
	kick       chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewEngine builds an engine. shared may be nil, in which case local deltas
// go straight to the durable store.
func NewEngine(store CounterStore, shared SharedBuffer, opts Options, logger *slog.Logger) *Engine {
	opts.defaults()
	return &Engine{
		local:  NewMemoryBuffer(),
		shared: shared,
		store:  store,
		opts:   opts,
		logger: logger,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// RecordClick counts one click. It never blocks or fails.
func (e *Engine) RecordClick(alias string) {
	e.local.Add(alias, 1)
	metrics.ClicksRecorded.Inc()

	if e.opts.Threshold > 0 && e.sinceFlush.Add(1) >= e.opts.Threshold {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

// Buffered returns the process-local delta for alias that has not been
// flushed yet.
func (e *Engine) Buffered(alias string) int64 {
	return e.local.Get(alias)
}

// Total reads the durable total for alias.
func (e *Engine) Total(ctx context.Context, alias string) (int64, error) {
	return e.store.Total(ctx, alias)
}

// Flush moves every buffered delta towards the durable store. Deltas that
// cannot be applied are restored and retried by a later flush; the returned
// error describes what was deferred.
func (e *Engine) Flush(ctx context.Context) error {
	e.sinceFlush.Store(0)

	if e.shared == nil {
		return e.flushLocalToStore(ctx)
	}

	localErr := e.drainLocal(ctx)
	sharedErr := e.flushShared(ctx)
	return errors.Join(localErr, sharedErr)
}

// drainLocal pushes local deltas into the shared buffer. When the shared
// buffer is unavailable a delta is applied to the durable store directly,
// and kept locally if that fails too.
func (e *Engine) drainLocal(ctx context.Context) error {
	var errs []error
	for _, alias := range e.local.Pending() {
		delta := e.local.Take(alias)
		if delta == 0 {
			continue
		}
		err := e.shared.Add(ctx, alias, delta)
		if err == nil {
			continue
		}
		metrics.FlushFailures.WithLabelValues("shared").Inc()
		e.logger.Warn("shared click buffer unavailable, applying directly", "alias", alias, "delta", delta, "error", err)

		if err := e.apply(ctx, alias, delta); err != nil {
			e.local.Add(alias, delta)
			errs = append(errs, fmt.Errorf("alias %s: %w", alias, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) flushLocalToStore(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)

	var mu sync.Mutex
	var errs []error
	for _, alias := range e.local.Pending() {
		g.Go(func() error {
			_, err, _ := e.flights.Do(alias, func() (any, error) {
				delta := e.local.Take(alias)
				if delta == 0 {
					return nil, nil
				}
				if err := e.apply(gctx, alias, delta); err != nil {
					e.local.Add(alias, delta)
					return nil, err
				}
				return nil, nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("alias %s: %w", alias, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (e *Engine) flushShared(ctx context.Context) error {
	aliases, err := e.shared.Pending(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)

	var mu sync.Mutex
	var errs []error
	for _, alias := range aliases {
		g.Go(func() error {
			_, err, _ := e.flights.Do(alias, func() (any, error) {
				return nil, e.flushSharedAlias(gctx, alias)
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("alias %s: %w", alias, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// flushSharedAlias takes alias's shared delta and applies it. Callers hold
// the alias's single-flight slot.
func (e *Engine) flushSharedAlias(ctx context.Context, alias string) error {
	delta, err := e.shared.Take(ctx, alias)
	if err != nil || delta == 0 {
		return err
	}

	applyErr := e.apply(ctx, alias, delta)
	if applyErr == nil {
		return nil
	}

	if err := e.shared.Restore(ctx, alias, delta); err != nil {
		// Keep the delta in this process rather than lose it.
		e.local.Add(alias, delta)
		e.logger.Warn("restoring click delta locally", "alias", alias, "delta", delta, "error", err)
	}
	return applyErr
}

func (e *Engine) apply(ctx context.Context, alias string, delta int64) error {
	actx, cancel := context.WithTimeout(ctx, e.opts.ApplyTimeout)
	defer cancel()

	if err := e.store.Increment(actx, alias, delta); err != nil {
		metrics.FlushFailures.WithLabelValues("durable").Inc()
		e.logger.Warn("click flush failed, delta restored", "alias", alias, "delta", delta, "error", err)
		return err
	}
	metrics.ClicksFlushed.Add(float64(delta))
	return nil
}

// Start runs the flush loop in the background until Close.
func (e *Engine) Start() {
	e.startOnce.Do(func() { go e.run() })
}

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
		case <-e.kick:
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.FlushInterval)
		if err := e.Flush(ctx); err != nil {
			e.logger.Warn("click flush incomplete", "error", err)
		}
		cancel()
	}
}

// Close stops the loop after any in-flight flush and runs a final flush.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stop)
		// never started: nothing to wait for
		e.startOnce.Do(func() { close(e.done) })
		select {
		case <-e.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = e.Flush(ctx)
	})
	return err
}
