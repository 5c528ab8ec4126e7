package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

const linkColumns = `id, alias, owner_id, original_url, password_hash, is_active, title, created_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*models.ShortLink, error) {
	var (
		link models.ShortLink
		hash sql.NullString
	)
	if err := row.Scan(&link.ID, &link.Alias, &link.OwnerID, &link.OriginalURL, &hash, &link.IsActive, &link.Title, &link.CreatedAt, &link.Version); err != nil {
		return nil, err
	}
	if hash.Valid {
		link.PasswordHash = &hash.String
	}
	return &link, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// AliasRepository is the ByAlias projection: one row per alias, the source
// of truth for redirects and property updates.
type AliasRepository struct {
	db *sql.DB
}

func NewAliasRepository(db *sql.DB) *AliasRepository {
	return &AliasRepository{db: db}
}

// Insert stores a new link. It never overwrites: an existing alias or id
// yields ErrAliasCollision.
func (r *AliasRepository) Insert(ctx context.Context, link *models.ShortLink) error {
	defer observe("alias_insert")()

	query := `
		INSERT INTO links_by_alias (` + linkColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (alias) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		link.ID, link.Alias, link.OwnerID, link.OriginalURL,
		nullString(link.PasswordHash), link.IsActive, link.Title, link.CreatedAt, link.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrAliasCollision
		}
		return fmt.Errorf("insert alias %s: %w", link.Alias, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert alias %s: %w", link.Alias, err)
	}
	if n == 0 {
		return models.ErrAliasCollision
	}
	return nil
}

// Get returns the link for alias or ErrNotFound.
func (r *AliasRepository) Get(ctx context.Context, alias string) (*models.ShortLink, error) {
	defer observe("alias_get")()

	query := `SELECT ` + linkColumns + ` FROM links_by_alias WHERE alias = $1`
	link, err := scanLink(r.db.QueryRowContext(ctx, query, alias))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alias %s: %w", alias, err)
	}
	return link, nil
}

// Update applies patch, bumps the version and returns the resulting record.
func (r *AliasRepository) Update(ctx context.Context, alias string, patch models.LinkPatch) (*models.ShortLink, error) {
	defer observe("alias_update")()

	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.ClearPassword {
		add("password_hash", sql.NullString{})
	} else if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if len(sets) == 0 {
		return r.Get(ctx, alias)
	}

	sets = append(sets, "version = version + 1")
	args = append(args, alias)
	query := fmt.Sprintf(`UPDATE links_by_alias SET %s WHERE alias = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), linkColumns)

	link, err := scanLink(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update alias %s: %w", alias, err)
	}
	return link, nil
}
