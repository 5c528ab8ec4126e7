package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ClickRepository holds durable per-alias click totals. Totals only grow.
type ClickRepository struct {
	db *sql.DB
}

func NewClickRepository(db *sql.DB) *ClickRepository {
	return &ClickRepository{db: db}
}

// Increment atomically adds delta to alias's total.
func (r *ClickRepository) Increment(ctx context.Context, alias string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	defer observe("clicks_increment")()

	query := `
		INSERT INTO link_clicks (alias, total_clicks) VALUES ($1, $2)
		ON CONFLICT (alias) DO UPDATE SET total_clicks = link_clicks.total_clicks + EXCLUDED.total_clicks
	`
	if _, err := r.db.ExecContext(ctx, query, alias, delta); err != nil {
		return fmt.Errorf("increment clicks %s by %d: %w", alias, delta, err)
	}
	return nil
}

// Total returns alias's durable total; an alias never clicked has 0.
func (r *ClickRepository) Total(ctx context.Context, alias string) (int64, error) {
	defer observe("clicks_total")()

	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT total_clicks FROM link_clicks WHERE alias = $1`, alias).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read clicks %s: %w", alias, err)
	}
	return total, nil
}

// Totals returns durable totals for several aliases. Missing aliases are
// absent from the map.
func (r *ClickRepository) Totals(ctx context.Context, aliases []string) (map[string]int64, error) {
	out := make(map[string]int64, len(aliases))
	if len(aliases) == 0 {
		return out, nil
	}
	defer observe("clicks_totals")()

	rows, err := r.db.QueryContext(ctx, `SELECT alias, total_clicks FROM link_clicks WHERE alias = ANY($1)`, pq.Array(aliases))
	if err != nil {
		return nil, fmt.Errorf("read click totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			alias string
			total int64
		)
		if err := rows.Scan(&alias, &total); err != nil {
			return nil, fmt.Errorf("scan click totals: %w", err)
		}
		out[alias] = total
	}
	return out, rows.Err()
}
