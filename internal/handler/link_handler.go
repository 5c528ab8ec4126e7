package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Siddarth2230/url-shortener/internal/middleware"
	"github.com/Siddarth2230/url-shortener/internal/models"
)

// LinkService is the owner-facing link API.
type LinkService interface {
	Shorten(ctx context.Context, ownerID int64, req models.CreateLinkRequest) (*models.LinkResponse, error)
	UpdateLink(ctx context.Context, ownerID int64, alias string, req models.UpdateLinkRequest) (*models.LinkResponse, error)
	ListLinks(ctx context.Context, ownerID int64, limit, offset int) ([]models.LinkResponse, error)
	LinkStats(ctx context.Context, ownerID int64, alias string) (*models.LinkStats, error)
}

type LinkHandler struct {
	links     LinkService
	validator *requestValidator
	logger    *slog.Logger
}

func NewLinkHandler(links LinkService, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{links: links, validator: newRequestValidator(), logger: logger}
}

// decode reads a JSON body and validates it. It writes the error response
// itself and reports whether the handler should continue.
func (h *LinkHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	if err := h.validator.validate(v); err != nil {
		var fe fieldErrors
		if errors.As(err, &fe) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fe.Error(), "fields": fe})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// POST /api/urls
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateLinkRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.links.Shorten(r.Context(), middleware.UserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, h.logger, "create link", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// PATCH /api/urls/{alias}
func (h *LinkHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateLinkRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.links.UpdateLink(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["alias"], req)
	if err != nil {
		writeServiceError(w, h.logger, "update link", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/users/me/urls?limit=&offset=
func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	links, err := h.links.ListLinks(r.Context(), middleware.UserID(r.Context()), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, "list links", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": links})
}

// GET /api/urls/{alias}/stats
func (h *LinkHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.links.LinkStats(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["alias"])
	if err != nil {
		writeServiceError(w, h.logger, "link stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
