// Package http exposes the entitlement, provider and cache layer to the
// desktop shell over a loopback HTTP API. Handlers only parse requests,
// call the domain package and render the result.
//
// # Routes
//
//	GET    /api/health                 component health, never gated
//	GET    /api/device                 fingerprint prefix and signal names
//	GET    /api/license/status         last entitlement verdict
//	POST   /api/license/activate       {"license_key": "..."}
//	POST   /api/license/deactivate
//	GET    /api/license/info           seat usage, read-only
//	GET    /api/provider/capabilities  ?mode=remote|local
//	POST   /api/provider/validate      {"mode": "..."}
//	GET    /api/provider/resolve       ?operation=...&mode=...
//	GET    /api/settings/provider
//	PUT    /api/settings/provider      {"mode": "...", "api_key": "..."}
//	GET    /api/cache/stats
//	DELETE /api/cache
//	GET    /ws/provider/local          websocket stream of Local capability
//	GET    /metrics                    Prometheus exposition
//
// Provider, settings, cache and websocket routes sit behind the license
// gate. License, health, device and metrics routes do not.
//
// # Error Handling
//
// Errors are rendered as RFC 7807 problem documents by
// errors.ErrorHandler. Entitlement codes appear as error_code with their
// remediation text:
//
//	{
//	    "type": "/errors/license/max-devices",
//	    "title": "Conflict",
//	    "status": 409,
//	    "detail": "This license is already active on the maximum number of devices",
//	    "error_code": "MAX_DEVICES_REACHED",
//	    "remediation": "Deactivate the license on another device, then try again."
//	}
//
// A failed activation is not an HTTP error: POST /api/license/activate
// always answers 200 with a ValidationResult whose valid field is false and
// whose code names the reason.
package http
