package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fontlens/internal/config"
	"fontlens/internal/kvstore"
	"fontlens/internal/shared/testutil"
)

func newStore(t *testing.T, cfg config.ProviderConfig) (*Store, *kvstore.Memory) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	kv := kvstore.NewMemory(0)
	return New(kv, cfg, logger), kv
}

func TestMode(t *testing.T) {
	ctx := context.Background()

	s, kv := newStore(t, config.ProviderConfig{DefaultMode: "remote"})
	assert.Equal(t, ModeRemote, s.Mode(ctx))

	require.NoError(t, s.SetMode(ctx, ModeLocal))
	assert.Equal(t, ModeLocal, s.Mode(ctx))

	assert.Error(t, s.SetMode(ctx, Mode("hybrid")))
	assert.Equal(t, ModeLocal, s.Mode(ctx))

	require.NoError(t, kv.Set(ctx, modeKey, []byte("garbage")))
	assert.Equal(t, ModeRemote, s.Mode(ctx), "invalid saved value falls back to default")
}

func TestModeDefaultFromConfig(t *testing.T) {
	s, _ := newStore(t, config.ProviderConfig{DefaultMode: "LOCAL"})
	assert.Equal(t, ModeLocal, s.Mode(context.Background()))

	s, _ = newStore(t, config.ProviderConfig{DefaultMode: "???"})
	assert.Equal(t, ModeRemote, s.Mode(context.Background()))
}

func TestAPIKeyFallback(t *testing.T) {
	ctx := context.Background()

	s, _ := newStore(t, config.ProviderConfig{})
	assert.False(t, s.HasAPIKey(ctx))

	s, _ = newStore(t, config.ProviderConfig{APIKey: " configured "})
	assert.Equal(t, "configured", s.APIKey(ctx))

	require.NoError(t, s.SetAPIKey(ctx, "user-key"))
	assert.Equal(t, "user-key", s.APIKey(ctx))

	require.NoError(t, s.SetAPIKey(ctx, ""))
	assert.Equal(t, "configured", s.APIKey(ctx), "clearing restores the configured key")
}

func TestReadErrorsDegradeToDefaults(t *testing.T) {
	ctx := context.Background()
	logger, logs := testutil.NewTestLogger(t)
	kv := kvstore.NewMemory(0)
	s := New(kv, config.ProviderConfig{DefaultMode: "remote", APIKey: "cfg"}, logger)
	require.NoError(t, kv.Close())

	assert.Equal(t, ModeRemote, s.Mode(ctx))
	assert.Equal(t, "cfg", s.APIKey(ctx))
	assert.True(t, logs.ContainsMessage("failed"))
}

func TestSetErrorsAreReturned(t *testing.T) {
	ctx := context.Background()
	s, kv := newStore(t, config.ProviderConfig{})
	kv.FailSet = func(string) error { return errors.New("read-only") }

	assert.Error(t, s.SetMode(ctx, ModeLocal))
	assert.Error(t, s.SetAPIKey(ctx, "k"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Remote ")
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, m)

	_, err = ParseMode("")
	assert.Error(t, err)
}
