package licenseapi

import "time"

// Every field is a pointer: the service may omit any of them.

// ValidateReply is the validate_license result.
type ValidateReply struct {
	Success        *bool      `json:"success"`
	LicenseKey     *string    `json:"license_key"`
	MaxDevices     *int       `json:"max_devices"`
	CurrentDevices *int       `json:"current_devices"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Tier           *string    `json:"tier"`
	Error          *string    `json:"error"`
}

func (r *ValidateReply) wellFormed() bool { return r.Success != nil }

// DeactivateReply is the deactivate_device result.
type DeactivateReply struct {
	Success *bool   `json:"success"`
	Error   *string `json:"error"`
}

func (r *DeactivateReply) wellFormed() bool { return r.Success != nil }

// Device is one seat holder in an info reply.
type Device struct {
	Fingerprint *string    `json:"device_fingerprint"`
	ActivatedAt *time.Time `json:"activated_at"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
}

// InfoReply is the get_license_info result.
type InfoReply struct {
	Success        *bool      `json:"success"`
	IsActive       *bool      `json:"is_active"`
	MaxDevices     *int       `json:"max_devices"`
	CurrentDevices *int       `json:"current_devices"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Tier           *string    `json:"tier"`
	Devices        []Device   `json:"devices"`
	Error          *string    `json:"error"`
}

func (r *InfoReply) wellFormed() bool { return r.Success != nil }

// OK reports success == true.
func (r *ValidateReply) OK() bool { return r.Success != nil && *r.Success }

// OK reports success == true.
func (r *DeactivateReply) OK() bool { return r.Success != nil && *r.Success }

// OK reports success == true.
func (r *InfoReply) OK() bool { return r.Success != nil && *r.Success }

// ErrorText returns the error field or "".
func (r *ValidateReply) ErrorText() string { return deref(r.Error) }

// ErrorText returns the error field or "".
func (r *DeactivateReply) ErrorText() string { return deref(r.Error) }

// ErrorText returns the error field or "".
func (r *InfoReply) ErrorText() string { return deref(r.Error) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
