package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. FONTLENS_SERVER_PORT.
const EnvPrefix = "FONTLENS"

// Config represents the complete agent configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Security    SecurityConfig    `yaml:"security" envconfig:"SECURITY"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
	Storage     StorageConfig     `yaml:"storage" envconfig:"STORAGE"`
	Entitlement EntitlementConfig `yaml:"entitlement" envconfig:"ENTITLEMENT"`
	Cache       CacheConfig       `yaml:"cache" envconfig:"CACHE"`
	Provider    ProviderConfig    `yaml:"provider" envconfig:"PROVIDER"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket   WebSocketConfig   `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
}

// StorageConfig selects and tunes the key/value persistence driver.
type StorageConfig struct {
	Driver      string `yaml:"driver" envconfig:"DRIVER"`
	SQLitePath  string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	RedisURL    string `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisPrefix string `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
	// QuotaBytes caps the total stored value size. Zero means unlimited.
	QuotaBytes int64 `yaml:"quota_bytes" envconfig:"QUOTA_BYTES"`
}

// EntitlementConfig points at the remote license authority.
type EntitlementConfig struct {
	URL                  string        `yaml:"url" envconfig:"URL"`
	APIKey               string        `yaml:"api_key" envconfig:"KEY"`
	SealSecret           string        `yaml:"seal_secret" envconfig:"SEAL_SECRET"`
	Timeout              time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxRetries           int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	RetryBackoff         time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF"`
	RateLimit            float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateBurst            int           `yaml:"rate_burst" envconfig:"RATE_BURST"`
	RevalidationInterval time.Duration `yaml:"revalidation_interval" envconfig:"REVALIDATION_INTERVAL"`
	OfflineGraceCeiling  time.Duration `yaml:"offline_grace_ceiling" envconfig:"OFFLINE_GRACE_CEILING"`
}

// Configured reports whether both the service URL and key are present.
func (e EntitlementConfig) Configured() bool {
	return strings.TrimSpace(e.URL) != "" && strings.TrimSpace(e.APIKey) != ""
}

// CacheConfig tunes the analysis result cache.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl" envconfig:"TTL"`
	SchemaVersion int           `yaml:"schema_version" envconfig:"SCHEMA_VERSION"`
}

// ProviderConfig configures AI backend selection.
type ProviderConfig struct {
	DefaultMode   string        `yaml:"default_mode" envconfig:"DEFAULT_MODE"`
	APIKey        string        `yaml:"api_key" envconfig:"API_KEY"`
	LocalProbeURL string        `yaml:"local_probe_url" envconfig:"LOCAL_PROBE_URL"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" envconfig:"PROBE_TIMEOUT"`
	PollInterval  time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
}

// TelemetryConfig controls metrics and tracing export.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load builds the configuration from defaults, then the YAML file, then the
// environment. Later sources win.
func Load() (*Config, error) {
	return LoadFile(ConfigFilePath())
}

// LoadFile is Load with an explicit YAML path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	applyEmbedded(cfg)
	cfg.resolvePaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays the YAML file onto cfg. Keys absent from the file keep
// their current value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ConfigFilePath returns FONTLENS_CONFIG, or fontlens.yaml in the data dir.
func ConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv(EnvPrefix + "_PATHS_DATA_DIR")
	if dir == "" {
		dir = DefaultDataDir()
	}
	return filepath.Join(dir, ConfigFileName)
}

// resolvePaths fills driver paths that default to the data dir.
func (c *Config) resolvePaths() {
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = DefaultDataDir()
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Paths.DataDir, DatabaseFileName)
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.Paths.DataDir, "logs", LogFileName)
	} else if !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(c.Paths.DataDir, c.Logging.FilePath)
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage driver redis requires redis_url")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("storage quota must not be negative")
	}

	if c.Entitlement.URL != "" {
		u, err := url.Parse(c.Entitlement.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid entitlement url %q", c.Entitlement.URL)
		}
	}
	if c.Entitlement.RevalidationInterval <= 0 {
		return fmt.Errorf("revalidation interval must be positive")
	}
	if c.Entitlement.OfflineGraceCeiling < c.Entitlement.RevalidationInterval {
		return fmt.Errorf("offline grace ceiling %s is shorter than revalidation interval %s",
			c.Entitlement.OfflineGraceCeiling, c.Entitlement.RevalidationInterval)
	}
	if c.Entitlement.MaxRetries < 0 {
		return fmt.Errorf("entitlement max_retries must not be negative")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Cache.SchemaVersion < 1 {
		return fmt.Errorf("cache schema version must be at least 1")
	}

	switch c.Provider.DefaultMode {
	case "remote", "local":
	default:
		return fmt.Errorf("unknown provider default mode %q", c.Provider.DefaultMode)
	}
	if c.Provider.PollInterval <= 0 {
		return fmt.Errorf("provider poll interval must be positive")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		c.Logging.Output = "stdout"
	}

	switch c.Telemetry.TraceExporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Telemetry.TraceExporter)
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:5173", "app://fontlens"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Driver:      StorageSQLite,
			RedisPrefix: "",
		},
		Entitlement: EntitlementConfig{
			Timeout:              LicenseCheckTimeout,
			MaxRetries:           2,
			RetryBackoff:         500 * time.Millisecond,
			RateLimit:            LicenseCheckRateLimit,
			RateBurst:            LicenseCheckBurst,
			RevalidationInterval: RevalidationInterval,
			OfflineGraceCeiling:  OfflineGraceCeiling,
		},
		Cache: CacheConfig{
			TTL:           DefaultCacheTTL,
			SchemaVersion: CacheSchemaVersion,
		},
		Provider: ProviderConfig{
			DefaultMode:   "remote",
			LocalProbeURL: DefaultLocalProbeURL,
			ProbeTimeout:  3 * time.Second,
			PollInterval:  DefaultPollInterval,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			MetricsEnabled: true,
			TraceExporter:  "none",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  WebSocketReadBufferSize,
			WriteBufferSize: WebSocketWriteBufferSize,
			PingPeriod:      WebSocketPingPeriod,
			PongWait:        WebSocketPongWait,
		},
	}
}
