// Package settings persists user preferences the provider selector reads: the
// preferred AI mode and the remote API key.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fontlens/internal/config"
	"fontlens/internal/kvstore"
)

// Mode is the user's preferred AI backend.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// ParseMode accepts "remote" or "local", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeRemote, ModeLocal:
		return m, nil
	}
	return "", fmt.Errorf("unknown provider mode %q", s)
}

const (
	modeKey   = config.SettingsKeyPrefix + "provider_mode"
	apiKeyKey = config.SettingsKeyPrefix + "remote_api_key"
)

// Store reads and writes settings through a kvstore. A configured API key is
// the fallback when the user has saved none.
type Store struct {
	kv          kvstore.Store
	defaultMode Mode
	fallbackKey string
	logger      *slog.Logger
}

// New creates a settings store. An invalid default mode falls back to remote.
func New(kv kvstore.Store, cfg config.ProviderConfig, logger *slog.Logger) *Store {
	mode, err := ParseMode(cfg.DefaultMode)
	if err != nil {
		mode = ModeRemote
	}
	return &Store{
		kv:          kv,
		defaultMode: mode,
		fallbackKey: strings.TrimSpace(cfg.APIKey),
		logger:      logger.With(slog.String("component", "settings")),
	}
}

// Mode returns the saved preferred mode, or the default.
func (s *Store) Mode(ctx context.Context) Mode {
	raw, err := s.kv.Get(ctx, modeKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			s.logger.WarnContext(ctx, "reading provider mode failed", slog.String("error", err.Error()))
		}
		return s.defaultMode
	}
	mode, err := ParseMode(string(raw))
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring invalid saved provider mode", slog.String("value", string(raw)))
		return s.defaultMode
	}
	return mode
}

// SetMode saves the preferred mode.
func (s *Store) SetMode(ctx context.Context, mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, modeKey, []byte(mode)); err != nil {
		return fmt.Errorf("saving provider mode: %w", err)
	}
	s.logger.InfoContext(ctx, "provider mode saved", slog.String("mode", string(mode)))
	return nil
}

// APIKey returns the saved remote API key, else the configured one. An empty
// result means no credential is present.
func (s *Store) APIKey(ctx context.Context) string {
	raw, err := s.kv.Get(ctx, apiKeyKey)
	if err == nil {
		if key := strings.TrimSpace(string(raw)); key != "" {
			return key
		}
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		s.logger.WarnContext(ctx, "reading api key failed", slog.String("error", err.Error()))
	}
	return s.fallbackKey
}

// HasAPIKey reports whether a remote credential is present.
func (s *Store) HasAPIKey(ctx context.Context) bool {
	return s.APIKey(ctx) != ""
}

// SetAPIKey saves the remote API key. An empty key clears the saved value so
// the configured fallback applies again.
func (s *Store) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		if err := s.kv.Delete(ctx, apiKeyKey); err != nil {
			return fmt.Errorf("clearing api key: %w", err)
		}
		s.logger.InfoContext(ctx, "remote api key cleared")
		return nil
	}
	if err := s.kv.Set(ctx, apiKeyKey, []byte(key)); err != nil {
		return fmt.Errorf("saving api key: %w", err)
	}
	s.logger.InfoContext(ctx, "remote api key saved", slog.Int("length", len(key)))
	return nil
}
