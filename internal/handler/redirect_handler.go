package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// PasswordHeader carries a link password for clients that avoid putting it
// in the query string.
const PasswordHeader = "X-Link-Password"

type Resolver interface {
	Resolve(ctx context.Context, alias string, password *string) (string, error)
}

type RedirectHandler struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewRedirectHandler(resolver Resolver, logger *slog.Logger) *RedirectHandler {
	return &RedirectHandler{resolver: resolver, logger: logger}
}

// GET /{alias} - redirect to the original URL
func (h *RedirectHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	alias := mux.Vars(r)["alias"]

	var password *string
	if p := r.Header.Get(PasswordHeader); p != "" {
		password = &p
	} else if p := r.URL.Query().Get("password"); p != "" {
		password = &p
	}

	target, err := h.resolver.Resolve(r.Context(), alias, password)
	if err != nil {
		writeServiceError(w, h.logger, "redirect", err)
		return
	}

	// 302 so browsers keep asking us and every visit is counted.
	http.Redirect(w, r, target, http.StatusFound)
}
