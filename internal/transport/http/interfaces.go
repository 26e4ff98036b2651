package http

import (
	"context"

	"fontlens/internal/cache"
	"fontlens/internal/device"
	"fontlens/internal/license"
	"fontlens/internal/settings"
)

// LicenseService is the entitlement surface the handlers need.
type LicenseService interface {
	Status() license.ValidationResult
	Activate(ctx context.Context, key string) license.ValidationResult
	Deactivate(ctx context.Context) error
	GetInfo(ctx context.Context) (*license.Info, error)
	Health() license.ComponentHealth
}

// SettingsService reads and writes provider preferences.
type SettingsService interface {
	Mode(ctx context.Context) settings.Mode
	SetMode(ctx context.Context, mode settings.Mode) error
	HasAPIKey(ctx context.Context) bool
	SetAPIKey(ctx context.Context, key string) error
}

// CacheService is the result cache maintenance surface.
type CacheService interface {
	Stats(ctx context.Context) (cache.Stats, error)
	ClearAll(ctx context.Context) (int, error)
}

// DeviceService describes this device.
type DeviceService interface {
	Fingerprint(ctx context.Context) string
	Strategy(ctx context.Context) device.Strategy
	Components(ctx context.Context) []string
}
