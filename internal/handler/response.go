package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Siddarth2230/url-shortener/internal/models"
	"github.com/Siddarth2230/url-shortener/pkg/idgen"
)

// helper: write JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// can't write response now
		slog.Error("writeJSON encode error", "error", err)
	}
}

// helper: write an error message in JSON form { "error": "msg" }
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps core result variants to HTTP status codes.
func statusFor(err error) (int, string) {
	var invalidAlias *idgen.InvalidAliasError
	switch {
	case errors.As(err, &invalidAlias), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "link not found"
	case errors.Is(err, models.ErrInactive):
		return http.StatusGone, "link is inactive"
	case errors.Is(err, models.ErrPasswordRequired):
		return http.StatusUnauthorized, "password required"
	case errors.Is(err, models.ErrPasswordMismatch):
		return http.StatusForbidden, "incorrect password"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrSessionExpired):
		return http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, models.ErrStoreTimeout):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeServiceError logs unexpected failures and writes the mapped status.
// Expected rejections are not logged.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", "error", err)
	}
	writeError(w, status, msg)
}
