package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var linkCols = []string{"id", "alias", "owner_id", "original_url", "password_hash", "is_active", "title", "created_at", "version"}

func sampleLink() *models.ShortLink {
	return &models.ShortLink{
		ID:          12345,
		Alias:       "3D7",
		OwnerID:     1,
		OriginalURL: "http://example.com",
		IsActive:    true,
		Title:       "example",
		CreatedAt:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Version:     1,
	}
}

func TestAliasRepository_Insert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAliasRepository(db)
	link := sampleLink()

	mock.ExpectExec(`INSERT INTO links_by_alias`).
		WithArgs(link.ID, link.Alias, link.OwnerID, link.OriginalURL, sql.NullString{}, true, "example", link.CreatedAt, link.Version).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), link))
}

func TestAliasRepository_InsertCollision(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAliasRepository(db)

	mock.ExpectExec(`INSERT INTO links_by_alias`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Insert(context.Background(), sampleLink()), models.ErrAliasCollision)

	// id conflict surfaces as a unique violation
	mock.ExpectExec(`INSERT INTO links_by_alias`).WillReturnError(&pq.Error{Code: "23505"})
	assert.ErrorIs(t, repo.Insert(context.Background(), sampleLink()), models.ErrAliasCollision)
}

func TestAliasRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAliasRepository(db)
	link := sampleLink()

	mock.ExpectQuery(`SELECT .* FROM links_by_alias WHERE alias = \$1`).
		WithArgs("3D7").
		WillReturnRows(sqlmock.NewRows(linkCols).
			AddRow(link.ID, link.Alias, link.OwnerID, link.OriginalURL, "hash", false, link.Title, link.CreatedAt, 1))

	got, err := repo.Get(context.Background(), "3D7")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got.ID)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.PasswordHash)
	assert.Equal(t, "hash", *got.PasswordHash)

	mock.ExpectQuery(`SELECT .* FROM links_by_alias`).WithArgs("zz").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "zz")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAliasRepository_Update(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAliasRepository(db)
	link := sampleLink()

	off := false
	title := "renamed"
	mock.ExpectQuery(`UPDATE links_by_alias SET is_active = \$1, title = \$2, password_hash = \$3, version = version \+ 1 WHERE alias = \$4 RETURNING`).
		WithArgs(false, "renamed", sql.NullString{}, "3D7").
		WillReturnRows(sqlmock.NewRows(linkCols).
			AddRow(link.ID, link.Alias, link.OwnerID, link.OriginalURL, nil, false, "renamed", link.CreatedAt, 2))

	got, err := repo.Update(context.Background(), "3D7", models.LinkPatch{IsActive: &off, Title: &title, ClearPassword: true})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "renamed", got.Title)
	assert.Nil(t, got.PasswordHash)
	assert.Equal(t, int64(2), got.Version)

	mock.ExpectQuery(`UPDATE links_by_alias`).WillReturnError(sql.ErrNoRows)
	_, err = repo.Update(context.Background(), "nope", models.LinkPatch{Title: &title})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOwnerRepository_UpsertAndList(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOwnerRepository(db)
	link := sampleLink()
	hash := "h"
	link.PasswordHash = &hash

	mock.ExpectExec(`(?s)INSERT INTO links_by_owner.*\sON CONFLICT \(owner_id, alias\) DO UPDATE.*WHERE links_by_owner\.version < EXCLUDED\.version`).
		WithArgs(link.ID, link.Alias, link.OwnerID, link.OriginalURL, sql.NullString{String: "h", Valid: true}, true, "example", link.CreatedAt, link.Version).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Upsert(context.Background(), link))

	mock.ExpectQuery(`(?s)SELECT .*FROM links_by_owner\s+WHERE owner_id = \$1`).
		WithArgs(int64(1), 50, 0).
		WillReturnRows(sqlmock.NewRows(linkCols).
			AddRow(2, "2", 1, "http://b", nil, true, "", link.CreatedAt, 1).
			AddRow(1, "1", 1, "http://a", nil, true, "", link.CreatedAt, 3))

	links, err := repo.List(context.Background(), 1, 50, 0)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "2", links[0].Alias)
}

func TestClickRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewClickRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`(?s)INSERT INTO link_clicks.*\sON CONFLICT \(alias\) DO UPDATE SET total_clicks = link_clicks.total_clicks \+ EXCLUDED.total_clicks`).
		WithArgs("abc123", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Increment(ctx, "abc123", 1000))

	// zero delta never reaches the database
	require.NoError(t, repo.Increment(ctx, "abc123", 0))

	mock.ExpectQuery(`SELECT total_clicks FROM link_clicks`).WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"total_clicks"}).AddRow(1000))
	total, err := repo.Total(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)

	mock.ExpectQuery(`SELECT total_clicks FROM link_clicks`).WithArgs("fresh").WillReturnError(sql.ErrNoRows)
	total, err = repo.Total(ctx, "fresh")
	require.NoError(t, err)
	assert.Zero(t, total)

	mock.ExpectQuery(`SELECT alias, total_clicks FROM link_clicks WHERE alias = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"alias", "total_clicks"}).AddRow("a", 3))
	totals, err := repo.Totals(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 3}, totals)

	mock.ExpectExec(`INSERT INTO link_clicks`).WillReturnError(errors.New("conn reset"))
	assert.Error(t, repo.Increment(ctx, "abc123", 1))
}

func TestReconcileRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReconcileRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT INTO reconcile_tasks.*\sON CONFLICT \(op, alias\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "create", "3D7", int64(1), "owner write failed", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Enqueue(ctx, models.ReconcileTask{
		Op: models.ReconcileCreate, Alias: "3D7", OwnerID: 1, LastError: "owner write failed", NextRunAt: now,
	}))

	leaseUntil := now.Add(time.Minute)
	mock.ExpectQuery(`(?s)UPDATE reconcile_tasks SET next_run_at = \$2\s+WHERE id IN`).
		WithArgs(now, leaseUntil, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "op", "alias", "owner_id", "attempts", "last_error", "next_run_at", "created_at"}).
			AddRow("t1", "create", "3D7", 1, 0, "", leaseUntil, now))
	tasks, err := repo.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.ReconcileCreate, tasks[0].Op)
	assert.Equal(t, leaseUntil, tasks[0].NextRunAt)

	mock.ExpectExec(`DELETE FROM reconcile_tasks WHERE id = \$1 AND next_run_at = \$2`).
		WithArgs("t1", leaseUntil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Done(ctx, tasks[0]))

	next := now.Add(5 * time.Second)
	mock.ExpectExec(`(?s)UPDATE reconcile_tasks\s+SET attempts = attempts \+ 1`).
		WithArgs("t1", leaseUntil, "boom", next).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Reschedule(ctx, tasks[0], next, errors.New("boom")))
}
