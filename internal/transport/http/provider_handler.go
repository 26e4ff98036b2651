package http

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "fontlens/internal/errors"
	"fontlens/internal/middleware"
	"fontlens/internal/provider"
	"fontlens/internal/settings"
	"fontlens/internal/websocket"
)

// ValidateModeRequest is the POST /api/provider/validate body.
type ValidateModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=remote local"`
}

// ProviderHandler serves capability queries and the Local readiness stream.
type ProviderHandler struct {
	selector     *provider.Selector
	upgrader     *websocket.Upgrader
	pollInterval time.Duration
	validator    *middleware.Validator
	problems     *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewProviderHandler creates a provider handler. upgrader may be nil, in
// which case the stream route answers 404.
func NewProviderHandler(
	selector *provider.Selector,
	upgrader *websocket.Upgrader,
	pollInterval time.Duration,
	validator *middleware.Validator,
	problems *apierrors.ErrorHandler,
	logger *slog.Logger,
) *ProviderHandler {
	return &ProviderHandler{
		selector:     selector,
		upgrader:     upgrader,
		pollInterval: pollInterval,
		validator:    validator,
		problems:     problems,
		logger:       logger.With(slog.String("handler", "provider")),
	}
}

// Routes returns a chi router for provider endpoints
func (h *ProviderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/capabilities", h.GetCapabilities)
	r.Post("/validate", h.Validate)
	r.Get("/resolve", h.Resolve)
	return r
}

// GetCapabilities handles GET /api/provider/capabilities. Without a mode
// parameter both modes are derived.
func (h *ProviderHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		render.JSON(w, r, []provider.Capability{
			h.selector.CapabilitiesOf(r.Context(), settings.ModeRemote),
			h.selector.CapabilitiesOf(r.Context(), settings.ModeLocal),
		})
		return
	}
	mode, err := settings.ParseMode(raw)
	if err != nil {
		h.problems.HandleError(w, r, fieldError("mode", err.Error()))
		return
	}
	render.JSON(w, r, h.selector.CapabilitiesOf(r.Context(), mode))
}

// Validate handles POST /api/provider/validate
func (h *ProviderHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateModeRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.selector.Validate(r.Context(), settings.Mode(req.Mode)))
}

// Resolve handles GET /api/provider/resolve. An absent mode uses the saved
// preference.
func (h *ProviderHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	op := provider.Operation(q.Get("operation"))
	if !slices.Contains(provider.Operations(), op) {
		h.problems.HandleError(w, r, fieldError("operation", "operation must be one of the supported analysis operations"))
		return
	}
	var mode settings.Mode
	if raw := q.Get("mode"); raw != "" {
		m, err := settings.ParseMode(raw)
		if err != nil {
			h.problems.HandleError(w, r, fieldError("mode", err.Error()))
			return
		}
		mode = m
	}
	render.JSON(w, r, h.selector.Resolve(r.Context(), op, mode))
}

// StreamLocal handles GET /ws/provider/local. It pushes one capability frame
// per poll until Local stops downloading, then closes the connection.
func (h *ProviderHandler) StreamLocal(w http.ResponseWriter, r *http.Request) {
	if h.upgrader == nil {
		h.problems.NotFound(w, r)
		return
	}
	client, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		return
	}
	client.Serve(r.Context(), func(ctx context.Context, send func(websocket.Message) bool) {
		final := provider.Poll(ctx, h.selector, h.pollInterval, func(c provider.Capability) {
			send(websocket.Message{Type: "capability", Data: c})
		})
		h.logger.DebugContext(ctx, "local capability stream finished",
			slog.String("client_id", client.ID()), slog.String("state", string(final.State)))
	})
}

func fieldError(field, message string) *apierrors.APIError {
	return apierrors.NewValidationErrors([]apierrors.ValidationError{{Field: field, Message: message}})
}
