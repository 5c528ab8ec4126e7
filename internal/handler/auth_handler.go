package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Siddarth2230/url-shortener/internal/middleware"
	"github.com/Siddarth2230/url-shortener/internal/models"
)

type SessionService interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
	Logout(ctx context.Context, token string) error
	IdleWindow() time.Duration
}

type AuthHandler struct {
	sessions   SessionService
	cookieName string
	logger     *slog.Logger
}

func NewAuthHandler(sessions SessionService, cookieName string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookieName: cookieName, logger: logger}
}

// GET /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Validate(r.Context(), middleware.Token(r, h.cookieName))
	if err != nil {
		writeServiceError(w, h.logger, "verify session", err)
		return
	}
	writeJSON(w, http.StatusOK, models.SessionResponse{
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt(h.sessions.IdleWindow()),
	})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.Token(r, h.cookieName)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	err := h.sessions.Logout(r.Context(), token)
	switch {
	case errors.Is(err, models.ErrCacheUnavailable):
		// The durable session is gone; the cached copy dies with its TTL.
		h.logger.Warn("logout left a cached session entry", "error", err)
	case err != nil:
		writeServiceError(w, h.logger, "logout", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
