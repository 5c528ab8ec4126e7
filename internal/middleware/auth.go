package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
}

type userIDKey struct{}

// UserID returns the authenticated user set by RequireSession, or 0.
func UserID(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey{}).(int64)
	return id
}

// WithUserID returns a context carrying an authenticated user id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// Token reads the session token from the cookie, falling back to a bearer
// Authorization header.
func Token(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// RequireSession rejects requests without a valid session and stores the
// session's user id in the request context.
func RequireSession(sessions SessionValidator, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Validate(r.Context(), Token(r, cookieName))
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sess.UserID)))
			case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrSessionExpired):
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
			case errors.Is(err, models.ErrStoreTimeout):
				writeAuthError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			default:
				logger.Error("session validation failed", "request_id", RequestID(r.Context()), "error", err)
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
			}
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
