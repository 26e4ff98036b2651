// Package kvstore is the local key/value persistence used by the result cache,
// the settings store and the license record. Drivers: in-memory, SQLite and
// Redis.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fontlens/internal/config"
)

var (
	// ErrNotFound is returned by Get for an absent key.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrQuotaExceeded is returned by Set when the write would exceed the
	// store's capacity. Callers may free space and retry.
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("kvstore: store closed")
)

// Store is a string-keyed blob store with prefix enumeration.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open returns the driver selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		logger.Info("kv store opened", slog.String("driver", cfg.Driver), slog.Int64("quota_bytes", cfg.QuotaBytes))
		return NewMemory(cfg.QuotaBytes), nil
	case config.StorageSQLite, "":
		s, err := OpenSQLite(ctx, cfg.SQLitePath, cfg.QuotaBytes, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageRedis:
		r, err := OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
