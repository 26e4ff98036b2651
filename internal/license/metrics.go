package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics are the entitlement instruments. Instruments that fail to register
// stay nil and are skipped.
type metrics struct {
	activations    metric.Int64Counter
	checks         metric.Int64Counter
	deactivations  metric.Int64Counter
	graceEntries   metric.Int64Counter
	recordFailures metric.Int64Counter
	duration       metric.Float64Histogram
}

func newMetrics(m metric.Meter) *metrics {
	lm := &metrics{}
	lm.activations, _ = m.Int64Counter("fontlens_license_activations_total",
		metric.WithDescription("License activation attempts by result code"))
	lm.checks, _ = m.Int64Counter("fontlens_license_checks_total",
		metric.WithDescription("Startup license checks by resulting state and path"))
	lm.deactivations, _ = m.Int64Counter("fontlens_license_deactivations_total",
		metric.WithDescription("Device deactivations by result code"))
	lm.graceEntries, _ = m.Int64Counter("fontlens_license_grace_entries_total",
		metric.WithDescription("Times the offline grace window was used"))
	lm.recordFailures, _ = m.Int64Counter("fontlens_license_record_failures_total",
		metric.WithDescription("License record persistence failures by operation"))
	lm.duration, _ = m.Float64Histogram("fontlens_license_operation_duration_seconds",
		metric.WithDescription("Entitlement operation latency"),
		metric.WithUnit("s"))
	return lm
}

func codeLabel(res ValidationResult) string {
	if res.Code == "" {
		if res.Valid {
			return "ok"
		}
		return "none"
	}
	return string(res.Code)
}

func (lm *metrics) activation(ctx context.Context, res ValidationResult, started time.Time) {
	if lm.activations != nil {
		lm.activations.Add(ctx, 1, metric.WithAttributes(attribute.String("code", codeLabel(res))))
	}
	lm.observe(ctx, "activate", started)
}

func (lm *metrics) check(ctx context.Context, res ValidationResult, path string, started time.Time) {
	if lm.checks != nil {
		lm.checks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(res.State)),
			attribute.String("path", path)))
	}
	if res.State == StateOfflineGrace && lm.graceEntries != nil {
		lm.graceEntries.Add(ctx, 1)
	}
	lm.observe(ctx, "check", started)
}

func (lm *metrics) deactivation(ctx context.Context, code string, started time.Time) {
	if lm.deactivations != nil {
		lm.deactivations.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
	lm.observe(ctx, "deactivate", started)
}

func (lm *metrics) recordFailure(ctx context.Context, op string) {
	if lm.recordFailures != nil {
		lm.recordFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}

func (lm *metrics) observe(ctx context.Context, op string, started time.Time) {
	if lm.duration != nil {
		lm.duration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attribute.String("operation", op)))
	}
}
