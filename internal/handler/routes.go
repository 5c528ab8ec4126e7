package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Siddarth2230/url-shortener/internal/middleware"
)

// Routes collects what the router serves.
type Routes struct {
	Links      *LinkHandler
	Redirects  *RedirectHandler
	Auth       *AuthHandler
	Sessions   middleware.SessionValidator
	CookieName string
	// Ready, when set, backs /healthz.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

// NewRouter wires every endpoint. The catch-all /{alias} route is
// registered last so fixed paths win.
func NewRouter(rt Routes) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(rt.Logger), middleware.MetricsMiddleware)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", rt.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/verify", rt.Auth.Verify).Methods(http.MethodGet)
	api.HandleFunc("/auth/logout", rt.Auth.Logout).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.RequireSession(rt.Sessions, rt.CookieName, rt.Logger))
	authed.HandleFunc("/urls", rt.Links.Create).Methods(http.MethodPost)
	authed.HandleFunc("/urls/{alias}", rt.Links.Update).Methods(http.MethodPatch)
	authed.HandleFunc("/urls/{alias}/stats", rt.Links.Stats).Methods(http.MethodGet)
	authed.HandleFunc("/users/me/urls", rt.Links.List).Methods(http.MethodGet)

	r.HandleFunc("/{alias}", rt.Redirects.Redirect).Methods(http.MethodGet)
	return r
}

func (rt Routes) health(w http.ResponseWriter, r *http.Request) {
	if rt.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.Ready(ctx); err != nil {
			rt.Logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
