package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the resolved on-disk locations used by the agent.
type Paths struct {
	DataDir      string
	LogsDir      string
	DatabaseFile string
	ConfigFile   string
}

// DefaultDataDir returns <user config dir>/fontlens, or ./fontlens-data when
// the user config dir cannot be determined.
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return filepath.Join(".", AppName+"-data")
	}
	return filepath.Join(base, AppName)
}

// ResolvedPaths returns the resolved paths for this configuration.
func (c *Config) ResolvedPaths() Paths {
	return Paths{
		DataDir:      c.Paths.DataDir,
		LogsDir:      filepath.Dir(c.Logging.FilePath),
		DatabaseFile: c.Storage.SQLitePath,
		ConfigFile:   filepath.Join(c.Paths.DataDir, ConfigFileName),
	}
}

// EnsureDirectories creates all required directories if they don't exist
func (p Paths) EnsureDirectories() error {
	dirs := []string{p.DataDir, p.LogsDir, filepath.Dir(p.DatabaseFile)}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogPathResolution logs the resolved paths at debug level.
func (p Paths) LogPathResolution(logger *slog.Logger) {
	logger.Debug("path resolution summary",
		slog.Group("paths",
			slog.String("data", p.DataDir),
			slog.String("logs", p.LogsDir),
			slog.String("database", p.DatabaseFile),
			slog.String("config", p.ConfigFile),
		))
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
