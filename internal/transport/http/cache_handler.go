package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "fontlens/internal/errors"
)

// ClearCacheResponse reports how many entries DELETE /api/cache removed.
type ClearCacheResponse struct {
	Removed int `json:"removed"`
}

// CacheHandler exposes result cache maintenance.
type CacheHandler struct {
	service  CacheService
	problems *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewCacheHandler creates a cache handler.
func NewCacheHandler(service CacheService, problems *apierrors.ErrorHandler, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		service:  service,
		problems: problems,
		logger:   logger.With(slog.String("handler", "cache")),
	}
}

// Routes returns a chi router for cache endpoints
func (h *CacheHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.GetStats)
	r.Delete("/", h.Clear)
	return r
}

// GetStats handles GET /api/cache/stats
func (h *CacheHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

// Clear handles DELETE /api/cache
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ClearAll(r.Context())
	if err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "result cache cleared", slog.Int("removed", n))
	render.JSON(w, r, ClearCacheResponse{Removed: n})
}
