package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/Siddarth2230/url-shortener/internal/auth"
	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/pkg/idgen"
	"github.com/Siddarth2230/url-shortener/pkg/metrics"
)

var (
	ErrInvalidURL   = fmt.Errorf("%w: URL must be an absolute http(s) URL", models.ErrInvalidInput)
	ErrEmptyUpdate  = fmt.Errorf("%w: nothing to update", models.ErrInvalidInput)
	ErrGenExhausted = errors.New("failed to generate unique alias after retries")
)

const defaultListLimit = 50

type ShortenerOptions struct {
	// BaseURL is prefixed to aliases to build short URLs. Optional.
	BaseURL string
	// MaxAttempts bounds regenerate-and-retry on alias collisions.
	MaxAttempts int
}

// Shortener is the owner-facing link API on top of the coordinator.
type Shortener struct {
	coord     *Coordinator
	generator idgen.Generator
	byOwner   OwnerStore
	clicks    ClickTotals
	opts      ShortenerOptions
	now       func() time.Time
	logger    *slog.Logger
}

func NewShortener(coord *Coordinator, gen idgen.Generator, byOwner OwnerStore, clicks ClickTotals, opts ShortenerOptions, logger *slog.Logger) *Shortener {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Shortener{
		coord:     coord,
		generator: gen,
		byOwner:   byOwner,
		clicks:    clicks,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// Shorten creates a link owned by ownerID. A collision on the generated
// alias triggers a fresh ID; other failures are returned as is.
func (s *Shortener) Shorten(ctx context.Context, ownerID int64, req models.CreateLinkRequest) (*models.LinkResponse, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}

	var hash *string
	if req.Password != "" {
		h, err := auth.HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		hash = &h
	}

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		id, alias, err := s.generator.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		metrics.IDsGenerated.Inc()

		link := &models.ShortLink{
			ID:           id,
			Alias:        alias,
			OwnerID:      ownerID,
			OriginalURL:  req.URL,
			PasswordHash: hash,
			IsActive:     true,
			Title:        req.Title,
			CreatedAt:    s.now().UTC(),
		}

		err = s.coord.Create(ctx, link)
		var partial *models.PartialWriteError
		switch {
		case err == nil:
		case errors.As(err, &partial):
			s.logger.Error("link created with diverged projections", "alias", alias, "error", err)
		case errors.Is(err, models.ErrAliasCollision):
			s.logger.Warn("alias collision, regenerating", "alias", alias, "attempt", attempt)
			continue
		default:
			return nil, err
		}

		s.logger.Info("link created", "alias", alias, "owner_id", ownerID)
		return s.response(link, nil), nil
	}
	return nil, ErrGenExhausted
}

// UpdateLink patches an owned link.
func (s *Shortener) UpdateLink(ctx context.Context, ownerID int64, alias string, req models.UpdateLinkRequest) (*models.LinkResponse, error) {
	patch := models.LinkPatch{
		IsActive:      req.IsActive,
		Title:         req.Title,
		ClearPassword: req.ClearPassword,
	}
	if req.Password != nil && !req.ClearPassword {
		h, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		patch.PasswordHash = &h
	}
	if patch.Empty() {
		return nil, ErrEmptyUpdate
	}

	link, err := s.coord.Update(ctx, ownerID, alias, patch)
	var partial *models.PartialWriteError
	if errors.As(err, &partial) {
		s.logger.Error("link updated with diverged projections", "alias", alias, "error", err)
	} else if err != nil {
		return nil, err
	}
	return s.response(link, nil), nil
}

// ListLinks returns ownerID's links, newest first, with durable click
// totals. Totals are omitted when the counter store cannot be read.
func (s *Shortener) ListLinks(ctx context.Context, ownerID int64, limit, offset int) ([]models.LinkResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	links, err := s.byOwner.List(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list links for owner %d: %w", ownerID, err)
	}

	aliases := make([]string, len(links))
	for i := range links {
		aliases[i] = links[i].Alias
	}
	totals, err := s.clicks.Totals(ctx, aliases)
	if err != nil {
		s.logger.Warn("click totals unavailable", "owner_id", ownerID, "error", err)
		totals = nil
	}

	out := make([]models.LinkResponse, 0, len(links))
	for i := range links {
		var total *int64
		if totals != nil {
			n := totals[links[i].Alias]
			total = &n
		}
		out = append(out, *s.response(&links[i], total))
	}
	return out, nil
}

// LinkStats returns the durable click total of an owned link.
func (s *Shortener) LinkStats(ctx context.Context, ownerID int64, alias string) (*models.LinkStats, error) {
	link, err := s.coord.Get(ctx, alias)
	if err != nil {
		return nil, err
	}
	if link.OwnerID != ownerID {
		return nil, models.ErrForbidden
	}
	total, err := s.clicks.Total(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("click total for %s: %w", alias, err)
	}
	return &models.LinkStats{Alias: alias, TotalClicks: total}, nil
}

func (s *Shortener) response(link *models.ShortLink, total *int64) *models.LinkResponse {
	shortURL := link.Alias
	if s.opts.BaseURL != "" {
		shortURL = fmt.Sprintf("%s/%s", s.opts.BaseURL, link.Alias)
	}
	return &models.LinkResponse{
		Alias:       link.Alias,
		ShortURL:    shortURL,
		OriginalURL: link.OriginalURL,
		Title:       link.Title,
		IsActive:    link.IsActive,
		Protected:   link.HasPassword(),
		CreatedAt:   link.CreatedAt,
		TotalClicks: total,
	}
}

// validateURL checks that the URL is syntactically valid and uses http/https.
// Reachability is not checked: it adds latency and remote hosts may block it.
func validateURL(urlStr string) error {
	if urlStr == "" {
		return ErrInvalidURL
	}
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return ErrInvalidURL
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return ErrInvalidURL
	}
	// Restrict to http(s) for redirect safety
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %s", ErrInvalidURL, parsed.Scheme)
	}
	return nil
}
