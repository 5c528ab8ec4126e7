package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

// OwnerRepository is the ByOwner projection used for dashboard listing.
type OwnerRepository struct {
	db *sql.DB
}

func NewOwnerRepository(db *sql.DB) *OwnerRepository {
	return &OwnerRepository{db: db}
}

// Upsert writes the full record unless the stored copy is at the same or a
// newer version. Late or replayed writes are therefore no-ops.
func (r *OwnerRepository) Upsert(ctx context.Context, link *models.ShortLink) error {
	defer observe("owner_upsert")()

	query := `
		INSERT INTO links_by_owner (` + linkColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id, alias) DO UPDATE SET
			original_url  = EXCLUDED.original_url,
			password_hash = EXCLUDED.password_hash,
			is_active     = EXCLUDED.is_active,
			title         = EXCLUDED.title,
			version       = EXCLUDED.version
		WHERE links_by_owner.version < EXCLUDED.version
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID, link.Alias, link.OwnerID, link.OriginalURL,
		nullString(link.PasswordHash), link.IsActive, link.Title, link.CreatedAt, link.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert owner %d alias %s: %w", link.OwnerID, link.Alias, err)
	}
	return nil
}

func (r *OwnerRepository) Get(ctx context.Context, ownerID int64, alias string) (*models.ShortLink, error) {
	defer observe("owner_get")()

	query := `SELECT ` + linkColumns + ` FROM links_by_owner WHERE owner_id = $1 AND alias = $2`
	link, err := scanLink(r.db.QueryRowContext(ctx, query, ownerID, alias))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get owner %d alias %s: %w", ownerID, alias, err)
	}
	return link, nil
}

// List returns the owner's links, newest first.
func (r *OwnerRepository) List(ctx context.Context, ownerID int64, limit, offset int) ([]models.ShortLink, error) {
	defer observe("owner_list")()

	query := `
		SELECT ` + linkColumns + `
		FROM links_by_owner
		WHERE owner_id = $1
		ORDER BY created_at DESC, alias
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	var links []models.ShortLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan owner %d: %w", ownerID, err)
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}
