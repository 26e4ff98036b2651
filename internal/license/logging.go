package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"fontlens/internal/infrastructure"
)

// logAction writes one structured line per entitlement action and mirrors it
// as a span event.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	base = append(base, attrs...)
	m.logger.LogAttrs(ctx, level, "license "+action, base...)

	event := map[string]any{"action": action, "result": result}
	for _, a := range attrs {
		event[a.Key] = a.Value.String()
	}
	infrastructure.AddSpanEvent(ctx, "license."+action, event)
}

func (m *Manager) logResult(ctx context.Context, action string, key string, res ValidationResult) {
	level := slog.LevelInfo
	result := "success"
	attrs := []slog.Attr{slog.String("state", string(res.State))}
	if key != "" {
		attrs = append(attrs,
			slog.String("license_key", maskLicenseKey(key)),
			slog.String("license_hash", hashLicenseKey(key)))
	}
	if !res.Valid {
		level = slog.LevelWarn
		result = "failure"
		if res.Code != "" {
			attrs = append(attrs, slog.String("code", string(res.Code)))
		}
	}
	if res.State == StateOfflineGrace {
		result = "grace"
	}
	m.logAction(ctx, level, action, result, attrs...)
}

// maskLicenseKey keeps the first and last four characters.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey is a short, stable correlation id for a key.
func hashLicenseKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// shortFingerprint is the display form of a device fingerprint.
func shortFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}
