package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every path at a temp dir and clears entitlement env so the
// host environment cannot leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FONTLENS_PATHS_DATA_DIR", dir)
	t.Setenv("FONTLENS_CONFIG", filepath.Join(dir, "missing.yaml"))
	for _, k := range []string{"FONTLENS_ENTITLEMENT_URL", "FONTLENS_ENTITLEMENT_KEY", "FONTLENS_STORAGE_DRIVER"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:7411", cfg.Server.Addr())
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, DatabaseFileName), cfg.Storage.SQLitePath)
	assert.Equal(t, RevalidationInterval, cfg.Entitlement.RevalidationInterval)
	assert.Equal(t, OfflineGraceCeiling, cfg.Entitlement.OfflineGraceCeiling)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTL)
	assert.Equal(t, "remote", cfg.Provider.DefaultMode)
	assert.Equal(t, 30*time.Second, cfg.Provider.PollInterval)
	assert.False(t, cfg.Entitlement.Configured())
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "fontlens.yaml")
	yaml := `
server:
  port: 9000
storage:
  driver: memory
  quota_bytes: 4096
entitlement:
  url: https://licenses.example.com/rest/v1
  api_key: file-key
cache:
  schema_version: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("FONTLENS_SERVER_PORT", "9100")
	t.Setenv("FONTLENS_ENTITLEMENT_KEY", "env-key")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, StorageMemory, cfg.Storage.Driver, "file wins over default")
	assert.Equal(t, int64(4096), cfg.Storage.QuotaBytes)
	assert.Equal(t, "env-key", cfg.Entitlement.APIKey)
	assert.Equal(t, 3, cfg.Cache.SchemaVersion)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "untouched keys keep defaults")
	assert.True(t, cfg.Entitlement.Configured())
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"FONTLENS_SERVER_PORT": "70000"}},
		{"unknown driver", map[string]string{"FONTLENS_STORAGE_DRIVER": "leveldb"}},
		{"redis without url", map[string]string{"FONTLENS_STORAGE_DRIVER": "redis"}},
		{"relative entitlement url", map[string]string{"FONTLENS_ENTITLEMENT_URL": "licenses"}},
		{"grace shorter than revalidation", map[string]string{"FONTLENS_ENTITLEMENT_OFFLINE_GRACE_CEILING": "24h"}},
		{"unknown mode", map[string]string{"FONTLENS_PROVIDER_DEFAULT_MODE": "hybrid"}},
		{"zero schema", map[string]string{"FONTLENS_CACHE_SCHEMA_VERSION": "0"}},
		{"unknown trace exporter", map[string]string{"FONTLENS_TELEMETRY_TRACE_EXPORTER": "jaeger"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "fontlens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestEntitlementConfigured(t *testing.T) {
	assert.False(t, EntitlementConfig{}.Configured())
	assert.False(t, EntitlementConfig{URL: "https://x"}.Configured())
	assert.False(t, EntitlementConfig{URL: "https://x", APIKey: "   "}.Configured())
	assert.True(t, EntitlementConfig{URL: "https://x", APIKey: "k"}.Configured())
}

func TestApplyEmbedded(t *testing.T) {
	orig := embeddedEntitlementURL
	t.Cleanup(func() { embeddedEntitlementURL = orig })
	embeddedEntitlementURL = "https://embedded.example.com"

	cfg := Default()
	applyEmbedded(cfg)
	assert.Equal(t, "https://embedded.example.com", cfg.Entitlement.URL)

	cfg = Default()
	cfg.Entitlement.URL = "https://runtime.example.com"
	applyEmbedded(cfg)
	assert.Equal(t, "https://runtime.example.com", cfg.Entitlement.URL)
}

func TestPaths(t *testing.T) {
	dir := isolate(t)
	cfg, err := Load()
	require.NoError(t, err)

	p := cfg.ResolvedPaths()
	assert.Equal(t, dir, p.DataDir)
	assert.Equal(t, filepath.Join(dir, "logs"), p.LogsDir)
	require.NoError(t, p.EnsureDirectories())
	assert.True(t, FileExists(p.LogsDir))
	assert.False(t, FileExists(filepath.Join(dir, "nope")))
}
