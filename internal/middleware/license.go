package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apierrors "fontlens/internal/errors"
	"fontlens/internal/license"
)

// EntitlementStatus exposes the last entitlement verdict.
type EntitlementStatus interface {
	Status() license.ValidationResult
}

// LicenseGate rejects requests to gated routes until the startup check has
// produced a granting verdict. It never calls the license service itself.
type LicenseGate struct {
	status  EntitlementStatus
	logger  *slog.Logger
	allowed metric.Int64Counter
	denied  metric.Int64Counter
}

// NewLicenseGate creates the gate.
func NewLicenseGate(status EntitlementStatus, logger *slog.Logger, meter metric.Meter) *LicenseGate {
	g := &LicenseGate{
		status: status,
		logger: logger.With(slog.String("component", "license_gate")),
	}
	g.allowed, _ = meter.Int64Counter("fontlens_license_gate_allowed_total",
		metric.WithDescription("Gated requests let through by entitlement state"))
	g.denied, _ = meter.Int64Counter("fontlens_license_gate_denied_total",
		metric.WithDescription("Gated requests rejected by entitlement state"))
	return g
}

// Handler returns the middleware handler function
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		st := g.status.Status()
		state := attribute.String("state", string(st.State))
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("license.state", string(st.State)))

		if st.State.Grants() {
			if g.allowed != nil {
				g.allowed.Add(ctx, 1, metric.WithAttributes(state))
			}
			next.ServeHTTP(w, r)
			return
		}

		if g.denied != nil {
			g.denied.Add(ctx, 1, metric.WithAttributes(state))
		}
		g.logger.WarnContext(ctx, "request blocked by license gate",
			slog.String("path", r.URL.Path),
			slog.String("state", string(st.State)),
			slog.String("code", string(st.Code)))

		detail := "A valid license is required"
		if st.Message != "" {
			detail = st.Message
		}
		problem := apierrors.NewProblemDetails(http.StatusPaymentRequired, apierrors.TypeLicenseRequired,
			"License Required", detail, r.URL.Path).
			WithExtension("error_code", "LICENSE_REQUIRED").
			WithExtension("state", string(st.State)).
			WithExtension("trace_id", middleware.GetReqID(ctx))
		if st.Code != "" {
			problem.WithExtension("license_code", string(st.Code))
			problem.WithExtension("remediation", apierrors.RemediationFor(st.Code))
		}
		render.Render(w, r, problem)
	})
}
