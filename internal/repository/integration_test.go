package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddarth2230/url-shortener/internal/clicks"
	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/internal/repository"
	"github.com/Siddarth2230/url-shortener/internal/testutils"
)

// These run against real Postgres and Redis containers when INTEGRATION=1.

func TestIntegration_Links(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	env.Reset(t)
	ctx := context.Background()

	byAlias := repository.NewAliasRepository(env.DB)
	byOwner := repository.NewOwnerRepository(env.DB)

	link := &models.ShortLink{
		ID:          12345,
		Alias:       "3D7",
		OwnerID:     7,
		OriginalURL: "https://example.com",
		IsActive:    true,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		Version:     1,
	}
	require.NoError(t, byAlias.Insert(ctx, link))
	assert.ErrorIs(t, byAlias.Insert(ctx, link), models.ErrAliasCollision)
	require.NoError(t, byOwner.Upsert(ctx, link))
	require.NoError(t, byOwner.Upsert(ctx, link), "upsert is idempotent")

	inactive := false
	updated, err := byAlias.Update(ctx, "3D7", models.LinkPatch{IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, link.Version+1, updated.Version)

	// a late copy of the older version must not win
	require.NoError(t, byOwner.Upsert(ctx, updated))
	require.NoError(t, byOwner.Upsert(ctx, link))
	got, err := byOwner.Get(ctx, 7, "3D7")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = byAlias.Get(ctx, "zzz")
	assert.ErrorIs(t, err, models.ErrNotFound)

	owned, err := byOwner.List(ctx, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "3D7", owned[0].Alias)
}

func TestIntegration_ClickEngineExactTotals(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	env.Reset(t)
	ctx := context.Background()

	counters := repository.NewClickRepository(env.DB)
	engine := clicks.NewEngine(counters, clicks.NewRedisBuffer(env.RedisClient), clicks.Options{}, env.Logger)

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.RecordClick("3D7")
		}()
	}
	wg.Wait()
	require.NoError(t, engine.Close(ctx))

	total, err := counters.Total(ctx, "3D7")
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)
}

func TestIntegration_OutboxClaimIsExclusive(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	env.Reset(t)
	ctx := context.Background()

	outbox := repository.NewReconcileRepository(env.DB)
	now := time.Now().UTC()
	task := models.ReconcileTask{Op: models.ReconcileCreate, Alias: "3D7", OwnerID: 7, NextRunAt: now.Add(-time.Second)}
	require.NoError(t, outbox.Enqueue(ctx, task))
	require.NoError(t, outbox.Enqueue(ctx, task), "one task per op and alias")

	claimed, err := outbox.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := outbox.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "leased task is hidden")

	require.NoError(t, outbox.Reschedule(ctx, claimed[0], now.Add(-time.Millisecond), errors.New("boom")))
	retried, err := outbox.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].Attempts)

	require.NoError(t, outbox.Done(ctx, retried[0]))
	n, err := outbox.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIntegration_Sessions(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	env.Reset(t)
	ctx := context.Background()

	store := repository.NewSessionRepository(env.SessionPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	sess := &models.Session{
		Token:             "tok-1",
		UserID:            7,
		CreatedAt:         now,
		LastActiveAt:      now,
		AbsoluteExpiresAt: now.Add(3 * time.Hour),
	}
	require.NoError(t, store.Create(ctx, sess))

	ok, err := store.Touch(ctx, "tok-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, got.LastActiveAt.Equal(now.Add(time.Minute)))

	tokens, err := store.DeleteByUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, tokens)

	ok, err = store.Touch(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.Get(ctx, "tok-1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
