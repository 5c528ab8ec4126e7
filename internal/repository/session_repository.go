package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

// pgxDB is the subset of *pgxpool.Pool the session store uses.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionRepository is the durable identity store for sessions.
type SessionRepository struct {
	db pgxDB
}

func NewSessionRepository(db pgxDB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	defer observe("session_create")()

	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (token, user_id, created_at, last_active_at, absolute_expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.Token, s.UserID, s.CreatedAt, s.LastActiveAt, s.AbsoluteExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create session for user %d: %w", s.UserID, err)
	}
	return nil
}

// Get returns the session or ErrSessionNotFound.
func (r *SessionRepository) Get(ctx context.Context, token string) (*models.Session, error) {
	defer observe("session_get")()

	var s models.Session
	err := r.db.QueryRow(ctx, `
		SELECT token, user_id, created_at, last_active_at, absolute_expires_at
		FROM sessions WHERE token = $1`, token,
	).Scan(&s.Token, &s.UserID, &s.CreatedAt, &s.LastActiveAt, &s.AbsoluteExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// Touch moves last_active_at forward to at. It reports false when the
// session no longer exists.
func (r *SessionRepository) Touch(ctx context.Context, token string, at time.Time) (bool, error) {
	defer observe("session_touch")()

	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_active_at = GREATEST(last_active_at, $2)
		WHERE token = $1`, token, at,
	)
	if err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	defer observe("session_delete")()

	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes every session of userID and returns their tokens.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) ([]string, error) {
	defer observe("session_delete_user")()

	rows, err := r.db.Query(ctx, `DELETE FROM sessions WHERE user_id = $1 RETURNING token`, userID)
	if err != nil {
		return nil, fmt.Errorf("delete sessions of user %d: %w", userID, err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("delete sessions of user %d: %w", userID, err)
	}
	return tokens, nil
}
