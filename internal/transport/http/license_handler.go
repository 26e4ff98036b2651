package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	licenseErrors "fontlens/internal/errors"
	"fontlens/internal/middleware"
)

// ActivateRequest is the POST /api/license/activate body.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service   LicenseService
	validator *middleware.Validator
	problems  *licenseErrors.ErrorHandler
	logger    *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, validator *middleware.Validator, problems *licenseErrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:   service,
		validator: validator,
		problems:  problems,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Get("/info", h.GetInfo)
	return r
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Status())
}

// Activate handles POST /api/license/activate. Rejected keys are a normal
// 200 reply carrying the verdict.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.service.Activate(r.Context(), req.LicenseKey))
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context()); err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.service.Status())
}

// GetInfo handles GET /api/license/info
func (h *LicenseHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.GetInfo(r.Context())
	if err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}
