// Package license owns the entitlement state machine of the fontlens agent.
//
// # States
//
//	- unvalidated: nothing has been checked in this process yet
//	- valid: a remote confirmation, or a recent enough stored one
//	- offline_grace_valid: the service was unreachable but the last
//	  confirmation is inside the offline ceiling
//	- invalid: no license, an authoritative rejection, or too long offline
//
// valid and offline_grace_valid both grant access. A stored verdict is a
// claim pending the next revalidation, never a permanent grant.
//
// # Startup Check
//
// CheckOnStartup runs before any gated surface is served:
//
//	1. Not configured: NOT_CONFIGURED, invalid, no network
//	2. No stored record: invalid, no network
//	3. Record younger than the revalidation interval, same device,
//	   not expired: valid, no network
//	4. Otherwise revalidate remotely with the stored key
//
// A key verdict from the service (not found, inactive, expired, device
// limit) clears the record. Transport failures and malformed replies are not
// verdicts: they yield offline_grace_valid while the last confirmation is
// younger than the offline ceiling, and leave the record untouched so the
// next startup tries again.
//
// # Storage
//
// The LicenseRecord is sealed with AES-256-GCM before it is written to the
// key/value store. A record that fails to open is treated as corrupt,
// deleted, and reported as UNKNOWN_ERROR.
//
// # Logging
//
// License keys are never logged in full. Log lines carry a masked key and a
// short sha256 prefix for correlation.
package license
