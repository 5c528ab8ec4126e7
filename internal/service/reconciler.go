package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/pkg/metrics"
)

type ReconcilerOptions struct {
	Interval  time.Duration
	BatchSize int
	// Rate caps tasks per second; <= 0 is unlimited.
	Rate float64
	// Lease is how long a claimed task stays hidden from other instances.
	Lease      time.Duration
	RetryBase  time.Duration
	RetryLimit time.Duration
}

// Reconciler drains the outbox by copying ByAlias onto ByOwner. Replaying a
// task copies the same record again, so duplicates are harmless.
type Reconciler struct {
	outbox  Outbox
	byAlias AliasReader
	byOwner OwnerStore
	opts    ReconcilerOptions
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

func NewReconciler(outbox Outbox, byAlias AliasReader, byOwner OwnerStore, opts ReconcilerOptions, logger *slog.Logger) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 5 * time.Minute
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &Reconciler{
		outbox:  outbox,
		byAlias: byAlias,
		byOwner: byOwner,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		logger:  logger,
	}
}

// backlogCounter is implemented by outboxes that can report their size.
type backlogCounter interface {
	Pending(ctx context.Context) (int64, error)
}

// Run processes due tasks every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		if n, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("reconcile pass incomplete", "reconciled", n, "error", err)
		} else if n > 0 {
			r.logger.Info("reconcile pass", "reconciled", n)
		}
		r.reportBacklog(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due tasks and processes it. It returns how
// many tasks completed.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	tasks, err := r.outbox.Claim(ctx, r.now().UTC(), r.opts.Lease, r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim reconcile tasks: %w", err)
	}

	done := 0
	var errs []error
	for _, task := range tasks {
		if err := r.limiter.Wait(ctx); err != nil {
			return done, err
		}
		if err := r.reconcile(ctx, task); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func (r *Reconciler) reportBacklog(ctx context.Context) {
	bc, ok := r.outbox.(backlogCounter)
	if !ok {
		return
	}
	n, err := bc.Pending(ctx)
	if err != nil {
		return
	}
	metrics.ReconcileBacklog.Set(float64(n))
}

func (r *Reconciler) reconcile(ctx context.Context, task models.ReconcileTask) error {
	link, err := r.byAlias.Get(ctx, task.Alias)
	switch {
	case errors.Is(err, models.ErrNotFound):
		// Nothing to copy.
		r.logger.Warn("reconcile task for missing alias dropped", "op", task.Op, "alias", task.Alias)
		return r.finish(ctx, task)
	case err != nil:
		return r.retry(ctx, task, err)
	}

	if err := r.byOwner.Upsert(ctx, link); err != nil {
		return r.retry(ctx, task, err)
	}
	return r.finish(ctx, task)
}

func (r *Reconciler) finish(ctx context.Context, task models.ReconcileTask) error {
	if err := r.outbox.Done(ctx, task); err != nil {
		return fmt.Errorf("complete reconcile %s/%s: %w", task.Op, task.Alias, err)
	}
	metrics.ReconcileTasks.WithLabelValues("done").Inc()
	return nil
}

func (r *Reconciler) retry(ctx context.Context, task models.ReconcileTask, cause error) error {
	metrics.ReconcileTasks.WithLabelValues("retry").Inc()
	next := r.now().UTC().Add(r.delay(task.Attempts))
	if err := r.outbox.Reschedule(ctx, task, next, cause); err != nil {
		return fmt.Errorf("reschedule reconcile %s/%s: %w", task.Op, task.Alias, errors.Join(cause, err))
	}
	return fmt.Errorf("reconcile %s/%s: %w", task.Op, task.Alias, cause)
}

// delay doubles per attempt up to RetryLimit.
func (r *Reconciler) delay(attempts int) time.Duration {
	if attempts > 20 {
		attempts = 20
	}
	d := r.opts.RetryBase << attempts
	if d <= 0 || d > r.opts.RetryLimit {
		return r.opts.RetryLimit
	}
	return d
}
