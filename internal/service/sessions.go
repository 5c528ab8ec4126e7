package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/pkg/cache"
	"github.com/Siddarth2230/url-shortener/pkg/metrics"
)

const sessionTokenLength = 32

type SessionOptions struct {
	IdleWindow   time.Duration
	Absolute     time.Duration
	StoreTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Sessions validates session tokens against the durable identity store,
// mirrored in a fast cache whose entries expire with the session.
type Sessions struct {
	store   SessionStore
	cache   SessionCache
	idle    time.Duration
	abs     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewSessions builds the session cache. sc may be nil, in which case every
// validation reads the durable store.
func NewSessions(store SessionStore, sc SessionCache, opts SessionOptions, logger *slog.Logger) *Sessions {
	if opts.IdleWindow <= 0 {
		opts.IdleWindow = 30 * time.Minute
	}
	if opts.Absolute <= 0 {
		opts.Absolute = 3 * time.Hour
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sessions{
		store:   store,
		cache:   sc,
		idle:    opts.IdleWindow,
		abs:     opts.Absolute,
		timeout: opts.StoreTimeout,
		now:     opts.Now,
		logger:  logger,
	}
}

// IdleWindow is the inactivity limit applied by Validate.
func (s *Sessions) IdleWindow() time.Duration { return s.idle }

// Start opens a session for userID, ending any session the user already has.
func (s *Sessions) Start(ctx context.Context, userID int64) (*models.Session, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	old, err := s.store.DeleteByUser(tctx, userID)
	cancel()
	if err != nil {
		return nil, timeoutErr(err, "end previous sessions")
	}
	for _, token := range old {
		s.uncache(ctx, token)
	}

	token, err := gonanoid.New(sessionTokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now().UTC()
	sess := &models.Session{
		Token:             token,
		UserID:            userID,
		CreatedAt:         now,
		LastActiveAt:      now,
		AbsoluteExpiresAt: now.Add(s.abs),
	}

	tctx, cancel = context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Create(tctx, sess); err != nil {
		return nil, timeoutErr(err, "create session")
	}
	s.cacheSet(ctx, sess, now)
	return sess, nil
}

// Validate checks token and refreshes its idle window. It returns
// models.ErrSessionNotFound or models.ErrSessionExpired for rejected tokens.
func (s *Sessions) Validate(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		metrics.SessionValidations.WithLabelValues("not_found").Inc()
		return nil, models.ErrSessionNotFound
	}
	now := s.now().UTC()

	sess, cached, err := s.load(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			metrics.SessionValidations.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	if cached && !sess.ValidAt(now, s.idle) {
		// The mirror may lag a refresh made elsewhere.
		if sess, err = s.loadDurable(ctx, token); err != nil {
			return nil, err
		}
	}

	if !sess.ValidAt(now, s.idle) {
		metrics.SessionValidations.WithLabelValues("expired").Inc()
		s.destroy(ctx, token)
		return nil, models.ErrSessionExpired
	}

	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.store.Touch(tctx, token, now)
	if err != nil {
		return nil, timeoutErr(err, "refresh session")
	}
	if !ok {
		// Deleted after we read it.
		s.uncache(ctx, token)
		metrics.SessionValidations.WithLabelValues("not_found").Inc()
		return nil, models.ErrSessionNotFound
	}

	if now.After(sess.LastActiveAt) {
		sess.LastActiveAt = now
	}
	s.cacheSet(ctx, sess, now)
	metrics.SessionValidations.WithLabelValues("valid").Inc()
	return sess, nil
}

// Logout deletes the session from the durable store and then the cache.
// A cache delete that keeps failing is returned so the caller knows the
// mirror may still hold the entry until its TTL.
func (s *Sessions) Logout(ctx context.Context, token string) error {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Delete(tctx, token); err != nil {
		return timeoutErr(err, "delete session")
	}
	if s.cache == nil {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		return s.cache.Delete(ctx, token)
	}, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
	if err != nil {
		metrics.CacheErrors.WithLabelValues("session").Inc()
		return fmt.Errorf("%w: evict session: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

// load reads the mirror first and falls back to the durable store. cached
// reports where the record came from.
func (s *Sessions) load(ctx context.Context, token string) (*models.Session, bool, error) {
	if s.cache != nil {
		var sess models.Session
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.cache.Get(cctx, token, &sess)
		cancel()
		switch {
		case err == nil:
			metrics.CacheHits.WithLabelValues("session").Inc()
			return &sess, true, nil
		case errors.Is(err, cache.ErrCacheMiss):
			metrics.CacheMisses.WithLabelValues("session").Inc()
		default:
			metrics.CacheErrors.WithLabelValues("session").Inc()
			s.logger.Warn("session cache unavailable, reading durable store", "error", err)
		}
	}
	sess, err := s.loadDurable(ctx, token)
	return sess, false, err
}

func (s *Sessions) loadDurable(ctx context.Context, token string) (*models.Session, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sess, err := s.store.Get(tctx, token)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			s.uncache(ctx, token)
			return nil, err
		}
		return nil, timeoutErr(err, "load session")
	}
	return sess, nil
}

func (s *Sessions) destroy(ctx context.Context, token string) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Delete(tctx, token); err != nil {
		s.logger.Warn("failed to delete expired session", "error", err)
	}
	s.uncache(ctx, token)
}

func (s *Sessions) cacheSet(ctx context.Context, sess *models.Session, now time.Time) {
	if s.cache == nil {
		return
	}
	ttl := sess.ExpiresAt(s.idle).Sub(now)
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.cache.SetTTL(cctx, sess.Token, sess, ttl); err != nil {
		metrics.CacheErrors.WithLabelValues("session").Inc()
		s.logger.Warn("session cache write failed", "error", err)
	}
}

func (s *Sessions) uncache(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, token); err != nil {
		metrics.CacheErrors.WithLabelValues("session").Inc()
		s.logger.Warn("session cache delete failed", "error", err)
	}
}
