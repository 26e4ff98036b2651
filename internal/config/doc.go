// Package config loads the fontlens agent configuration.
//
// # Configuration Sources
//
// Values are layered, later sources winning:
//
//	1. Default() values, including the policy constants in constants.go
//	2. The YAML file at FONTLENS_CONFIG, or <data dir>/fontlens.yaml
//	3. Environment variables with the FONTLENS_ prefix
//	4. Build-time entitlement defaults, only for fields still empty
//
// # Environment Variables
//
// Nested sections map onto underscored names:
//
//	FONTLENS_SERVER_PORT=7411
//	FONTLENS_STORAGE_DRIVER=sqlite
//	FONTLENS_ENTITLEMENT_URL=https://xyz.supabase.co/rest/v1
//	FONTLENS_ENTITLEMENT_KEY=...
//	FONTLENS_PROVIDER_API_KEY=...
//	FONTLENS_LOGGING_LEVEL=debug
//
// When FONTLENS_ENTITLEMENT_URL or FONTLENS_ENTITLEMENT_KEY is missing the
// license manager runs in not-configured mode.
package config
