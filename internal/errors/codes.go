package errors

import (
	stderrors "errors"
	"net/http"
	"strings"
)

// Code is a stable entitlement error code surfaced verbatim to the UI.
type Code string

// The closed set of entitlement error codes.
const (
	CodeKeyNotFound       Code = "KEY_NOT_FOUND"
	CodeKeyInactive       Code = "KEY_INACTIVE"
	CodeKeyExpired        Code = "KEY_EXPIRED"
	CodeMaxDevicesReached Code = "MAX_DEVICES_REACHED"
	CodeNotConfigured     Code = "NOT_CONFIGURED"
	CodeOffline           Code = "OFFLINE"
	CodeUnknown           Code = "UNKNOWN_ERROR"
)

// Codes lists every code in display order.
var Codes = []Code{
	CodeKeyNotFound,
	CodeKeyInactive,
	CodeKeyExpired,
	CodeMaxDevicesReached,
	CodeNotConfigured,
	CodeOffline,
	CodeUnknown,
}

var codeMessages = map[Code]string{
	CodeKeyNotFound:       "This license key was not found",
	CodeKeyInactive:       "This license key has been deactivated",
	CodeKeyExpired:        "This license key has expired",
	CodeMaxDevicesReached: "This license is already active on the maximum number of devices",
	CodeNotConfigured:     "License service is not configured",
	CodeOffline:           "Unable to verify license, check your connection",
	CodeUnknown:           "An unexpected error occurred while verifying the license",
}

var codeRemediations = map[Code]string{
	CodeKeyNotFound:       "Check the key for typos and enter it exactly as shown in your purchase email.",
	CodeKeyInactive:       "Contact support to reactivate this license.",
	CodeKeyExpired:        "Renew your subscription, then activate again.",
	CodeMaxDevicesReached: "Deactivate the license on another device, then try again.",
	CodeNotConfigured:     "Set FONTLENS_ENTITLEMENT_URL and FONTLENS_ENTITLEMENT_KEY for this build.",
	CodeOffline:           "Connect to the internet and restart the application.",
	CodeUnknown:           "Try again in a few minutes. If the problem persists, contact support.",
}

// KeyVerdict reports whether the code is an authoritative verdict about the key
// itself, as opposed to a local or transport condition.
func (c Code) KeyVerdict() bool {
	switch c {
	case CodeKeyNotFound, CodeKeyInactive, CodeKeyExpired, CodeMaxDevicesReached:
		return true
	}
	return false
}

// Valid reports whether c is a member of the closed set.
func (c Code) Valid() bool {
	_, ok := codeMessages[c]
	return ok
}

// MessageFor returns the user-facing message for a code.
func MessageFor(code Code) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return codeMessages[CodeUnknown]
}

// RemediationFor returns the remediation hint shown on the activation screen.
func RemediationFor(code Code) string {
	if msg, ok := codeRemediations[code]; ok {
		return msg
	}
	return codeRemediations[CodeUnknown]
}

// StatusFor maps a code to an HTTP status for the local API.
func StatusFor(code Code) int {
	switch code {
	case CodeKeyNotFound:
		return http.StatusNotFound
	case CodeKeyInactive, CodeKeyExpired:
		return http.StatusForbidden
	case CodeMaxDevicesReached:
		return http.StatusConflict
	case CodeNotConfigured:
		return http.StatusNotImplemented
	case CodeOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ParseCode maps the error field of a license reply onto the closed set. It
// accepts the canonical form as well as lower-case, spaced and hyphenated
// variants. Free-form phrasings only count when they name the license itself,
// so "license expired" is KEY_EXPIRED while "JWT expired" or "404 page not
// found" are CodeUnknown.
func ParseCode(s string) Code {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if c := Code(norm); c.Valid() {
		return c
	}
	if norm == "" {
		return CodeUnknown
	}
	if strings.Contains(norm, "MAX_DEVICES") || strings.Contains(norm, "DEVICE_LIMIT") {
		return CodeMaxDevicesReached
	}
	if !namesLicense(norm) {
		return CodeUnknown
	}
	switch {
	case strings.Contains(norm, "NOT_FOUND"), strings.Contains(norm, "INVALID_KEY"), strings.Contains(norm, "UNKNOWN_KEY"):
		return CodeKeyNotFound
	case strings.Contains(norm, "INACTIVE"), strings.Contains(norm, "REVOKED"), strings.Contains(norm, "SUSPENDED"):
		return CodeKeyInactive
	case strings.Contains(norm, "EXPIRED"):
		return CodeKeyExpired
	}
	return CodeUnknown
}

// namesLicense reports whether a normalized phrase is about the license key
// rather than a credential of the service (api key, JWT, token).
func namesLicense(norm string) bool {
	var subject bool
	for _, word := range strings.Split(norm, "_") {
		switch word {
		case "API", "APIKEY", "JWT", "TOKEN", "SESSION", "PAGE", "ROUTE", "ENDPOINT", "FUNCTION":
			return false
		case "KEY", "LICENSE", "LICENCE", "SUBSCRIPTION":
			subject = true
		}
	}
	return subject
}

// Error is a typed entitlement error carrying a stable code.
type Error struct {
	Code        Code
	Message     string
	Remediation string
	Err         error
}

// NewError creates an entitlement error with the default message and
// remediation for code.
func NewError(code Code, err error) *Error {
	return &Error{Code: code, Message: MessageFor(code), Remediation: RemediationFor(code), Err: err}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a bare *Error sentinel by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Err == nil
}

// Sentinel entitlement errors, comparable with errors.Is.
var (
	ErrKeyNotFound   = NewError(CodeKeyNotFound, nil)
	ErrNotConfigured = NewError(CodeNotConfigured, nil)
	ErrOffline       = NewError(CodeOffline, nil)
	ErrUnknown       = NewError(CodeUnknown, nil)
)

// CodeOf extracts the entitlement code from err, defaulting to CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
