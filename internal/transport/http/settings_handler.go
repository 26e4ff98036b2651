package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "fontlens/internal/errors"
	"fontlens/internal/middleware"
	"fontlens/internal/settings"
)

// ProviderSettings is the provider preference as shown to the shell. The key
// itself is never returned.
type ProviderSettings struct {
	Mode      settings.Mode `json:"mode"`
	HasAPIKey bool          `json:"has_api_key"`
}

// UpdateProviderSettingsRequest is the PUT /api/settings/provider body. Nil
// fields are left unchanged; an empty api_key removes the saved key.
type UpdateProviderSettingsRequest struct {
	Mode   *string `json:"mode,omitempty" validate:"omitempty,oneof=remote local"`
	APIKey *string `json:"api_key,omitempty" validate:"omitempty,max=256"`
}

// SettingsHandler reads and writes provider preferences.
type SettingsHandler struct {
	service   SettingsService
	validator *middleware.Validator
	problems  *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(service SettingsService, validator *middleware.Validator, problems *apierrors.ErrorHandler, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		service:   service,
		validator: validator,
		problems:  problems,
		logger:    logger.With(slog.String("handler", "settings")),
	}
}

// Routes returns a chi router for settings endpoints
func (h *SettingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/provider", h.GetProvider)
	r.Put("/provider", h.UpdateProvider)
	return r
}

// GetProvider handles GET /api/settings/provider
func (h *SettingsHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.current(r))
}

// UpdateProvider handles PUT /api/settings/provider
func (h *SettingsHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	var req UpdateProviderSettingsRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	ctx := r.Context()
	if req.Mode != nil {
		mode, err := settings.ParseMode(*req.Mode)
		if err != nil {
			h.problems.HandleError(w, r, fieldError("mode", err.Error()))
			return
		}
		if err := h.service.SetMode(ctx, mode); err != nil {
			h.problems.HandleError(w, r, err)
			return
		}
	}
	if req.APIKey != nil {
		if err := h.service.SetAPIKey(ctx, *req.APIKey); err != nil {
			h.problems.HandleError(w, r, err)
			return
		}
	}
	h.logger.InfoContext(ctx, "provider settings updated",
		slog.Bool("mode_changed", req.Mode != nil),
		slog.Bool("api_key_changed", req.APIKey != nil))
	render.JSON(w, r, h.current(r))
}

func (h *SettingsHandler) current(r *http.Request) ProviderSettings {
	return ProviderSettings{
		Mode:      h.service.Mode(r.Context()),
		HasAPIKey: h.service.HasAPIKey(r.Context()),
	}
}
