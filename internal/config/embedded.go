package config

// Build-time defaults for release binaries, set with
//
//	go build -ldflags "-X fontlens/internal/config.embeddedEntitlementURL=https://..."
//
// Runtime configuration always wins over these values.
var (
	embeddedEntitlementURL string
	embeddedEntitlementKey string
	embeddedSealSecret     string
)

// applyEmbedded fills entitlement settings left empty by file and env.
func applyEmbedded(cfg *Config) {
	if cfg.Entitlement.URL == "" {
		cfg.Entitlement.URL = embeddedEntitlementURL
	}
	if cfg.Entitlement.APIKey == "" {
		cfg.Entitlement.APIKey = embeddedEntitlementKey
	}
	if cfg.Entitlement.SealSecret == "" {
		cfg.Entitlement.SealSecret = embeddedSealSecret
	}
}
