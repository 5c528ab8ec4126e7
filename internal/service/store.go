package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

// AliasStore is the ByAlias projection, the source of truth for redirects.
type AliasStore interface {
	Insert(ctx context.Context, link *models.ShortLink) error
	Get(ctx context.Context, alias string) (*models.ShortLink, error)
	Update(ctx context.Context, alias string, patch models.LinkPatch) (*models.ShortLink, error)
}

// AliasReader is the read half of AliasStore.
type AliasReader interface {
	Get(ctx context.Context, alias string) (*models.ShortLink, error)
}

// OwnerStore is the ByOwner projection used for dashboards.
type OwnerStore interface {
	Upsert(ctx context.Context, link *models.ShortLink) error
	Get(ctx context.Context, ownerID int64, alias string) (*models.ShortLink, error)
	List(ctx context.Context, ownerID int64, limit, offset int) ([]models.ShortLink, error)
}

// Outbox holds reconcile tasks for ByOwner writes that could not be applied.
type Outbox interface {
	Enqueue(ctx context.Context, task models.ReconcileTask) error
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.ReconcileTask, error)
	Done(ctx context.Context, task models.ReconcileTask) error
	Reschedule(ctx context.Context, task models.ReconcileTask, next time.Time, cause error) error
}

// ClickTotals reads durable click counters.
type ClickTotals interface {
	Total(ctx context.Context, alias string) (int64, error)
	Totals(ctx context.Context, aliases []string) (map[string]int64, error)
}

// ClickRecorder accepts a click without blocking.
type ClickRecorder interface {
	RecordClick(alias string)
}

// SessionStore is the durable identity store.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, token string) (*models.Session, error)
	Touch(ctx context.Context, token string, at time.Time) (bool, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID int64) ([]string, error)
}

// SessionCache mirrors session records in the fast store. A missing entry
// is reported as cache.ErrCacheMiss.
type SessionCache interface {
	Get(ctx context.Context, key string, v interface{}) error
	SetTTL(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Invalidator drops locally cached copies of a link.
type Invalidator interface {
	Invalidate(alias string)
}

// timeoutErr translates a deadline hit on a bounded store call into
// models.ErrStoreTimeout and wraps anything else with what.
func timeoutErr(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", models.ErrStoreTimeout, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
