package license

import (
	"context"
	"time"

	licenseErrors "fontlens/internal/errors"
	"fontlens/internal/licenseapi"
)

// State is the entitlement state.
type State string

const (
	StateUnvalidated  State = "unvalidated"
	StateValid        State = "valid"
	StateInvalid      State = "invalid"
	StateOfflineGrace State = "offline_grace_valid"
)

// Grants reports whether gated features may run in this state.
func (s State) Grants() bool {
	return s == StateValid || s == StateOfflineGrace
}

// ValidationResult is the outcome of an entitlement operation. A valid result
// never carries a code.
type ValidationResult struct {
	Valid          bool               `json:"valid"`
	Code           licenseErrors.Code `json:"code,omitempty"`
	Message        string             `json:"message,omitempty"`
	Remediation    string             `json:"remediation,omitempty"`
	State          State              `json:"state"`
	MaxDevices     *int               `json:"max_devices,omitempty"`
	CurrentDevices *int               `json:"current_devices,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	Tier           string             `json:"tier,omitempty"`
	ValidatedAt    *time.Time         `json:"validated_at,omitempty"`
}

// Record is the persisted proof of the last successful validation.
type Record struct {
	LicenseKey        string     `json:"license_key"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	ValidatedAt       time.Time  `json:"validated_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	MaxDevices        *int       `json:"max_devices,omitempty"`
	Tier              string     `json:"tier,omitempty"`
}

// Info is the read-only seat usage shown on the license panel.
type Info struct {
	LicenseKey     string       `json:"license_key"`
	Active         *bool        `json:"active,omitempty"`
	MaxDevices     *int         `json:"max_devices,omitempty"`
	CurrentDevices *int         `json:"current_devices,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	Tier           string       `json:"tier,omitempty"`
	Devices        []DeviceInfo `json:"devices"`
}

// DeviceInfo is one seat holder. Fingerprints are shortened for display.
type DeviceInfo struct {
	Fingerprint string     `json:"fingerprint"`
	Current     bool       `json:"current"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// RPC is the remote license authority.
type RPC interface {
	Validate(ctx context.Context, key, device string) (*licenseapi.ValidateReply, error)
	Deactivate(ctx context.Context, key, device string) (*licenseapi.DeactivateReply, error)
	Info(ctx context.Context, key string) (*licenseapi.InfoReply, error)
}

// Fingerprinter yields this device's fingerprint.
type Fingerprinter interface {
	Fingerprint(ctx context.Context) string
}
