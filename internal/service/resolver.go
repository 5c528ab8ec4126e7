package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Siddarth2230/url-shortener/internal/auth"
	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/pkg/cache"
	"github.com/Siddarth2230/url-shortener/pkg/idgen"
	"github.com/Siddarth2230/url-shortener/pkg/metrics"
)

type ResolverOptions struct {
	LookupTimeout time.Duration
	HotCacheSize  int
	// HotCacheTTL bounds how long another instance's update can go unseen.
	// Only active links without a password are cached.
	HotCacheTTL time.Duration
}

// Resolver answers redirects from ByAlias.
type Resolver struct {
	byAlias AliasReader
	clicks  ClickRecorder
	hot     *cache.LRUCache[*models.ShortLink]
	timeout time.Duration
	logger  *slog.Logger
}

func NewResolver(byAlias AliasReader, clicks ClickRecorder, opts ResolverOptions, logger *slog.Logger) *Resolver {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 300 * time.Millisecond
	}
	r := &Resolver{
		byAlias: byAlias,
		clicks:  clicks,
		timeout: opts.LookupTimeout,
		logger:  logger,
	}
	if opts.HotCacheSize > 0 {
		r.hot = cache.NewLRUCache[*models.ShortLink](opts.HotCacheSize, opts.HotCacheTTL)
	}
	return r
}

// Resolve returns the target URL for alias. Checks run in a fixed order:
// existence, active flag, then password. An inactive link is rejected even
// when the correct password is supplied.
func (r *Resolver) Resolve(ctx context.Context, alias string, password *string) (string, error) {
	if _, err := idgen.Decode(alias); err != nil {
		metrics.Redirects.WithLabelValues("invalid").Inc()
		return "", err
	}

	link, err := r.lookup(ctx, alias)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			metrics.Redirects.WithLabelValues("not_found").Inc()
		}
		return "", err
	}

	if !link.IsActive {
		metrics.Redirects.WithLabelValues("inactive").Inc()
		return "", models.ErrInactive
	}

	if link.HasPassword() {
		if password == nil || *password == "" {
			metrics.Redirects.WithLabelValues("password_required").Inc()
			return "", models.ErrPasswordRequired
		}
		ok, err := auth.VerifyPassword(*link.PasswordHash, *password)
		if err != nil {
			return "", fmt.Errorf("verify password for %s: %w", alias, err)
		}
		if !ok {
			metrics.Redirects.WithLabelValues("password_mismatch").Inc()
			return "", models.ErrPasswordMismatch
		}
	}

	r.clicks.RecordClick(alias)
	metrics.Redirects.WithLabelValues("redirect").Inc()
	return link.OriginalURL, nil
}

func (r *Resolver) lookup(ctx context.Context, alias string) (*models.ShortLink, error) {
	if r.hot != nil {
		if link, ok := r.hot.Get(alias); ok {
			metrics.CacheHits.WithLabelValues("hot").Inc()
			return link, nil
		}
		metrics.CacheMisses.WithLabelValues("hot").Inc()
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	link, err := r.byAlias.Get(lctx, alias)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		r.logger.Warn("by-alias lookup failed", "alias", alias, "error", err)
		return nil, timeoutErr(err, "lookup "+alias)
	}

	// Inactive and protected links are always read fresh. Only a plain
	// redirect may be stale, and for at most HotCacheTTL.
	if r.hot != nil && link.IsActive && !link.HasPassword() {
		r.hot.Put(alias, link)
	}
	return link, nil
}

// Invalidate drops alias from the hot cache.
func (r *Resolver) Invalidate(alias string) {
	if r.hot != nil {
		r.hot.Delete(alias)
	}
}
