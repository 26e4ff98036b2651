package config

import "time"

// Application constants
const (
	AppName    = "fontlens"
	AppVersion = "1.4.0"

	ConfigFileName   = "fontlens.yaml"
	DatabaseFileName = "fontlens.db"
	LogFileName      = "fontlens.log"

	DefaultPort = 7411
)

// Entitlement policy. These encode how long a device may run on a cached
// verdict, not how the check is implemented.
const (
	// RevalidationInterval is how long a successful validation is trusted
	// without contacting the license service.
	RevalidationInterval = 7 * 24 * time.Hour

	// OfflineGraceCeiling is how long a prior validation stays honored while
	// the license service is unreachable.
	OfflineGraceCeiling = 30 * 24 * time.Hour

	LicenseCheckTimeout   = 10 * time.Second
	LicenseCheckRateLimit = 2.0 // requests per second
	LicenseCheckBurst     = 4
)

// Cache policy
const (
	DefaultCacheTTL    = 30 * 24 * time.Hour
	CacheSchemaVersion = 1
)

// Persistent storage keys. Every key fontlens writes starts with KeyPrefix.
const (
	KeyPrefix         = "fontlens_"
	CacheKeyPrefix    = KeyPrefix + "cache_"
	LicenseRecordKey  = KeyPrefix + "license_record"
	SettingsKeyPrefix = KeyPrefix + "settings_"
)

// Storage drivers
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Provider defaults
const (
	DefaultLocalProbeURL = "http://127.0.0.1:11434/api/fontlens/availability"
	DefaultPollInterval  = 30 * time.Second
)

// HTTP surface
const (
	DefaultRateLimit = 50 // requests per second
	DefaultBurstSize = 100

	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024
	WebSocketPingPeriod      = 30 * time.Second
	WebSocketPongWait        = 60 * time.Second

	DefaultLogLevel = "info"
)
