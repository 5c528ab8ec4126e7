package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddarth2230/url-shortener/internal/auth"
	"github.com/Siddarth2230/url-shortener/internal/logger"
	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/pkg/idgen"
)

func newTestShortener(s stores, gen idgen.Generator) *Shortener {
	c := newTestCoordinator(s, nil)
	return NewShortener(c, gen, s.byOwner, s.clicks, ShortenerOptions{BaseURL: "http://sho.rt"}, logger.Discard())
}

func TestShortener_Shorten(t *testing.T) {
	s := newStores()
	sh := newTestShortener(s, newSnowflakeGenerator(t))
	ctx := context.Background()

	resp, err := sh.Shorten(ctx, 1, models.CreateLinkRequest{URL: "https://example.com/page", Title: "Page"})
	require.NoError(t, err)

	assert.True(t, idgen.Valid(resp.Alias))
	assert.Equal(t, "http://sho.rt/"+resp.Alias, resp.ShortURL)
	assert.True(t, resp.IsActive)
	assert.False(t, resp.Protected)

	byAlias, err := s.byAlias.Get(ctx, resp.Alias)
	require.NoError(t, err)
	id, err := idgen.Decode(resp.Alias)
	require.NoError(t, err)
	assert.Equal(t, int64(id), byAlias.ID, "alias encodes the id")

	byOwner, err := s.byOwner.Get(ctx, 1, resp.Alias)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", byOwner.OriginalURL)
	assert.Equal(t, "Page", byOwner.Title)
}

func TestShortener_InvalidURL(t *testing.T) {
	sh := newTestShortener(newStores(), newSnowflakeGenerator(t))

	for _, u := range []string{"", "not a url", "ftp://example.com/file", "mailto:a@b.c", "/relative/path"} {
		_, err := sh.Shorten(context.Background(), 1, models.CreateLinkRequest{URL: u})
		assert.ErrorIs(t, err, models.ErrInvalidInput, "url %q", u)
	}
}

func TestShortener_PasswordProtected(t *testing.T) {
	s := newStores()
	sh := newTestShortener(s, newSnowflakeGenerator(t))
	ctx := context.Background()

	resp, err := sh.Shorten(ctx, 1, models.CreateLinkRequest{URL: "https://example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.True(t, resp.Protected)

	link, err := s.byAlias.Get(ctx, resp.Alias)
	require.NoError(t, err)
	require.True(t, link.HasPassword())
	assert.True(t, strings.HasPrefix(*link.PasswordHash, "$argon2id$"))
	ok, err := auth.VerifyPassword(*link.PasswordHash, "hunter22")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShortener_RegeneratesOnCollision(t *testing.T) {
	s := newStores()
	taken := exampleLink()
	s.byAlias.Put(taken)
	gen := &fixedGenerator{aliases: []string{"abc123", "abc124"}}
	sh := newTestShortener(s, gen)

	resp, err := sh.Shorten(context.Background(), 2, models.CreateLinkRequest{URL: "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, "abc124", resp.Alias)
	assert.Equal(t, 2, gen.calls)

	original, err := s.byAlias.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", original.OriginalURL, "existing alias is never overwritten")
}

func TestShortener_CollisionsExhausted(t *testing.T) {
	s := newStores()
	s.byAlias.Put(exampleLink())
	gen := &fixedGenerator{aliases: []string{"abc123"}}
	sh := newTestShortener(s, gen)

	_, err := sh.Shorten(context.Background(), 2, models.CreateLinkRequest{URL: "https://example.org"})
	assert.ErrorIs(t, err, ErrGenExhausted)
	assert.Equal(t, 5, gen.calls)
}

func TestShortener_SecondaryFailureStillSucceeds(t *testing.T) {
	s := newStores()
	s.byOwner.FailAlways("upsert", nil)
	s.outbox.FailAlways("enqueue", nil)
	sh := newTestShortener(s, newSnowflakeGenerator(t))

	resp, err := sh.Shorten(context.Background(), 1, models.CreateLinkRequest{URL: "https://example.com"})
	require.NoError(t, err)

	_, err = s.byAlias.Get(context.Background(), resp.Alias)
	assert.NoError(t, err)
}

func TestShortener_UpdateLink(t *testing.T) {
	s := newStores()
	sh := newTestShortener(s, newSnowflakeGenerator(t))
	ctx := context.Background()

	created, err := sh.Shorten(ctx, 1, models.CreateLinkRequest{URL: "https://example.com", Password: "hunter22"})
	require.NoError(t, err)

	off := false
	resp, err := sh.UpdateLink(ctx, 1, created.Alias, models.UpdateLinkRequest{IsActive: &off, ClearPassword: true})
	require.NoError(t, err)
	assert.False(t, resp.IsActive)
	assert.False(t, resp.Protected)

	_, err = sh.UpdateLink(ctx, 2, created.Alias, models.UpdateLinkRequest{IsActive: &off})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = sh.UpdateLink(ctx, 1, created.Alias, models.UpdateLinkRequest{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	pw := "newpass1"
	resp, err = sh.UpdateLink(ctx, 1, created.Alias, models.UpdateLinkRequest{Password: &pw})
	require.NoError(t, err)
	assert.True(t, resp.Protected)
}

func TestShortener_ListLinksWithTotals(t *testing.T) {
	s := newStores()
	sh := newTestShortener(s, newSnowflakeGenerator(t))
	ctx := context.Background()

	var aliases []string
	for i := 0; i < 3; i++ {
		resp, err := sh.Shorten(ctx, 1, models.CreateLinkRequest{URL: "https://example.com"})
		require.NoError(t, err)
		aliases = append(aliases, resp.Alias)
	}
	_, err := sh.Shorten(ctx, 2, models.CreateLinkRequest{URL: "https://example.net"})
	require.NoError(t, err)
	require.NoError(t, s.clicks.Increment(ctx, aliases[0], 42))

	list, err := sh.ListLinks(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)

	totals := map[string]int64{}
	for _, l := range list {
		require.NotNil(t, l.TotalClicks)
		totals[l.Alias] = *l.TotalClicks
	}
	assert.Equal(t, int64(42), totals[aliases[0]])
	assert.Zero(t, totals[aliases[1]])

	s.clicks.FailNext("totals", 1, nil)
	list, err = sh.ListLinks(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Nil(t, list[0].TotalClicks)
}

func TestShortener_LinkStats(t *testing.T) {
	s := newStores()
	sh := newTestShortener(s, newSnowflakeGenerator(t))
	ctx := context.Background()

	created, err := sh.Shorten(ctx, 1, models.CreateLinkRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, s.clicks.Increment(ctx, created.Alias, 5))

	stats, err := sh.LinkStats(ctx, 1, created.Alias)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalClicks)

	_, err = sh.LinkStats(ctx, 2, created.Alias)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = sh.LinkStats(ctx, 1, "zzz999")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
