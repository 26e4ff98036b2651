package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"fontlens/internal/config"
	"fontlens/internal/infrastructure"
	"fontlens/internal/license"
)

// HealthResponse is the GET /api/health body.
type HealthResponse struct {
	Status     license.HealthStatus               `json:"status"`
	Version    string                             `json:"version"`
	Timestamp  time.Time                          `json:"timestamp"`
	Components map[string]license.ComponentHealth `json:"components"`
	Runtime    *infrastructure.RuntimeStats       `json:"runtime,omitempty"`
}

// DeviceResponse describes this device without exposing the full
// fingerprint.
type DeviceResponse struct {
	Fingerprint string   `json:"fingerprint"`
	Strategy    string   `json:"strategy"`
	Components  []string `json:"components"`
}

// HealthHandler serves health and device introspection.
type HealthHandler struct {
	license LicenseService
	device  DeviceService
	runtime *infrastructure.RuntimeMetrics
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. runtime may be nil.
func NewHealthHandler(lic LicenseService, device DeviceService, runtime *infrastructure.RuntimeMetrics, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		license: lic,
		device:  device,
		runtime: runtime,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Health handles GET /api/health. It always answers 200; the status field
// carries the verdict.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	lic := h.license.Health()
	resp := HealthResponse{
		Status:     lic.Status,
		Version:    config.AppVersion,
		Timestamp:  time.Now().UTC(),
		Components: map[string]license.ComponentHealth{"license": lic},
	}
	if h.runtime != nil {
		stats := h.runtime.Snapshot()
		resp.Runtime = &stats
	}
	render.JSON(w, r, resp)
}

// Device handles GET /api/device
func (h *HealthHandler) Device(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fp := h.device.Fingerprint(ctx)
	if len(fp) > 12 {
		fp = fp[:12]
	}
	render.JSON(w, r, DeviceResponse{
		Fingerprint: fp,
		Strategy:    string(h.device.Strategy(ctx)),
		Components:  h.device.Components(ctx),
	})
}
