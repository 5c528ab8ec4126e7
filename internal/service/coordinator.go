package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/pkg/metrics"
)

// RetryPolicy bounds the ByOwner retries. The divergence window between the
// two projections is at most the sum of its backoff intervals.
type RetryPolicy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.MaxElapsedTime = 0

	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// Coordinator writes a link to ByAlias and then ByOwner. ByAlias is never
// rolled back: a ByOwner write that keeps failing is handed to the outbox.
type Coordinator struct {
	byAlias AliasStore
	byOwner OwnerStore
	outbox  Outbox
	policy  RetryPolicy
	hot     Invalidator
	now     func() time.Time
	logger  *slog.Logger
}

// NewCoordinator builds a coordinator. hot may be nil.
func NewCoordinator(byAlias AliasStore, byOwner OwnerStore, outbox Outbox, policy RetryPolicy, hot Invalidator, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		byAlias: byAlias,
		byOwner: byOwner,
		outbox:  outbox,
		policy:  policy,
		hot:     hot,
		now:     time.Now,
		logger:  logger,
	}
}

// Get reads the authoritative record.
func (c *Coordinator) Get(ctx context.Context, alias string) (*models.ShortLink, error) {
	return c.byAlias.Get(ctx, alias)
}

// Create persists a new link. models.ErrAliasCollision means the caller must
// generate a new ID and try again. A *models.PartialWriteError means the
// link exists and redirects work, but the dashboard copy is missing and no
// reconcile task could be queued.
func (c *Coordinator) Create(ctx context.Context, link *models.ShortLink) error {
	if link.Version == 0 {
		link.Version = 1
	}
	if err := c.byAlias.Insert(ctx, link); err != nil {
		if errors.Is(err, models.ErrAliasCollision) {
			return err
		}
		return fmt.Errorf("write by-alias %s: %w", link.Alias, err)
	}
	return c.project(ctx, models.ReconcileCreate, link)
}

// Update applies patch to alias on behalf of ownerID and returns the new
// record. The returned link is valid even alongside a *PartialWriteError.
func (c *Coordinator) Update(ctx context.Context, ownerID int64, alias string, patch models.LinkPatch) (*models.ShortLink, error) {
	current, err := c.byAlias.Get(ctx, alias)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != ownerID {
		return nil, models.ErrForbidden
	}
	if patch.Empty() {
		return current, nil
	}

	updated, err := c.byAlias.Update(ctx, alias, patch)
	if err != nil {
		return nil, fmt.Errorf("update by-alias %s: %w", alias, err)
	}
	if c.hot != nil {
		c.hot.Invalidate(alias)
	}
	return updated, c.project(ctx, models.ReconcileUpdate, updated)
}

// project copies link onto ByOwner with bounded retries, falling back to
// the outbox.
func (c *Coordinator) project(ctx context.Context, op models.ReconcileOp, link *models.ShortLink) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.ProjectionRetries.Inc()
		}
		return c.byOwner.Upsert(ctx, link)
	}, c.policy.backOff(ctx))
	if err == nil {
		return nil
	}

	c.logger.Warn("by-owner projection failed, queueing reconcile",
		"op", op, "alias", link.Alias, "attempts", attempt, "error", err)

	// The caller may have given up; the task must still be recorded.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	task := models.ReconcileTask{
		Op:        op,
		Alias:     link.Alias,
		OwnerID:   link.OwnerID,
		LastError: err.Error(),
		NextRunAt: c.now().UTC(),
	}
	if qerr := c.outbox.Enqueue(qctx, task); qerr != nil {
		metrics.ReconcileTasks.WithLabelValues("partial").Inc()
		c.logger.Error("reconcile enqueue failed, projections diverged",
			"op", op, "alias", link.Alias, "error", qerr)
		return &models.PartialWriteError{Op: op, Alias: link.Alias, Err: errors.Join(err, qerr)}
	}
	metrics.ReconcileTasks.WithLabelValues("enqueued").Inc()
	return nil
}
