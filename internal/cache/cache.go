// Package cache is the content-addressed local store for AI analysis results.
//
// Entries expire after a TTL and are ignored when written under a different
// schema version. Writes are best-effort: a full store triggers one recovery
// pass and one retry, after which the write is dropped. Nothing here returns
// a write error to the caller.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"fontlens/internal/config"
	"fontlens/internal/kvstore"
)

// entry is the stored JSON envelope.
type entry struct {
	Payload       json.RawMessage `json:"payload"`
	StoredAt      int64           `json:"stored_at"` // unix milliseconds
	SchemaVersion int             `json:"schema_version"`
}

// Stats summarizes the decodable entries currently stored.
type Stats struct {
	Count      int        `json:"count"`
	TotalBytes int64      `json:"total_bytes"`
	Oldest     *time.Time `json:"oldest,omitempty"`
	Newest     *time.Time `json:"newest,omitempty"`
}

// Cache reads and writes result entries through a kvstore.
type Cache struct {
	kv      kvstore.Store
	ttl     time.Duration
	version int
	now     func() time.Time
	logger  *slog.Logger
	meter   metric.Meter
	metrics *metrics
	flight  singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMeter sets the meter for cache counters. The global meter provider is
// used otherwise.
func WithMeter(m metric.Meter) Option {
	return func(c *Cache) { c.meter = m }
}

// New creates a Cache. Zero TTL or schema version take the built-in defaults.
func New(kv kvstore.Store, cfg config.CacheConfig, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		kv:      kv,
		ttl:     cfg.TTL,
		version: cfg.SchemaVersion,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "result_cache")),
	}
	if c.ttl <= 0 {
		c.ttl = config.DefaultCacheTTL
	}
	if c.version <= 0 {
		c.version = config.CacheSchemaVersion
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.meter == nil {
		c.meter = otel.Meter("fontlens/cache")
	}
	m, err := newMetrics(c.meter)
	if err != nil {
		c.logger.Warn("cache metrics unavailable", slog.String("error", err.Error()))
		m = nil
	}
	c.metrics = m
	return c
}

type deadReason string

const (
	aliveEntry   deadReason = ""
	deadCorrupt  deadReason = "corrupt"
	deadVersion  deadReason = "version"
	deadExpired  deadReason = "expired"
	deadOldest   deadReason = "oldest"
	missAbsent   deadReason = "absent"
	missReadFail deadReason = "read_error"
)

func (c *Cache) classify(raw []byte) (entry, deadReason) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || len(e.Payload) == 0 {
		return e, deadCorrupt
	}
	if e.SchemaVersion != c.version {
		return e, deadVersion
	}
	if c.now().Sub(time.UnixMilli(e.StoredAt)) > c.ttl {
		return e, deadExpired
	}
	return e, aliveEntry
}

// Get returns the payload stored under key. Absent, corrupt, stale and
// expired entries are misses; the last three are deleted.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		reason := missAbsent
		if !errors.Is(err, kvstore.ErrNotFound) {
			reason = missReadFail
			c.logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		c.miss(ctx, reason)
		return nil, false
	}

	e, reason := c.classify(raw)
	if reason != aliveEntry {
		c.evict(ctx, key, reason)
		c.miss(ctx, reason)
		return nil, false
	}

	if c.metrics != nil {
		c.metrics.hits.Add(ctx, 1)
	}
	return e.Payload, true
}

// Put stores payload under key. It never fails the caller: encode errors and
// store errors are logged, and a full store gets one recovery pass and one
// retry before the write is dropped.
func (c *Cache) Put(ctx context.Context, key string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "cache write panicked", slog.String("key", key), slog.Any("panic", r))
		}
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.WarnContext(ctx, "cache payload not encodable", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	raw, err := json.Marshal(entry{Payload: body, StoredAt: c.now().UnixMilli(), SchemaVersion: c.version})
	if err != nil {
		c.logger.WarnContext(ctx, "cache entry not encodable", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	err = c.kv.Set(ctx, key, raw)
	if err == nil {
		return
	}
	if !errors.Is(err, kvstore.ErrQuotaExceeded) {
		c.drop(ctx, key, err)
		return
	}

	freed := c.reclaim(ctx)
	if err := c.kv.Set(ctx, key, raw); err != nil {
		c.recovery(ctx, "failed")
		c.drop(ctx, key, err)
		return
	}
	c.recovery(ctx, "recovered")
	c.logger.InfoContext(ctx, "cache write succeeded after quota recovery",
		slog.String("key", key), slog.Int("freed", freed))
}

// reclaim sweeps dead entries and, if none were dead, evicts the oldest
// quarter of the live ones. It returns the number of entries removed.
func (c *Cache) reclaim(ctx context.Context) int {
	keys, err := c.kv.Keys(ctx, config.CacheKeyPrefix)
	if err != nil {
		c.logger.WarnContext(ctx, "cache sweep could not list keys", slog.String("error", err.Error()))
		return 0
	}

	type live struct {
		key      string
		storedAt int64
	}
	var alive []live
	freed := 0
	for _, k := range keys {
		raw, err := c.kv.Get(ctx, k)
		if err != nil {
			continue
		}
		e, reason := c.classify(raw)
		if reason != aliveEntry {
			if c.evict(ctx, k, reason) {
				freed++
			}
			continue
		}
		alive = append(alive, live{key: k, storedAt: e.StoredAt})
	}
	if freed > 0 || len(alive) == 0 {
		c.logger.InfoContext(ctx, "cache sweep removed dead entries", slog.Int("removed", freed))
		return freed
	}

	sort.Slice(alive, func(i, j int) bool { return alive[i].storedAt < alive[j].storedAt })
	n := max(1, len(alive)/4)
	for _, l := range alive[:n] {
		if c.evict(ctx, l.key, deadOldest) {
			freed++
		}
	}
	c.logger.InfoContext(ctx, "cache evicted oldest entries", slog.Int("removed", freed), slog.Int("live", len(alive)))
	return freed
}

// ClearAll deletes every cache entry and returns how many were removed.
// Keys outside the cache prefix are untouched.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	keys, err := c.kv.Keys(ctx, config.CacheKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing cache keys: %w", err)
	}
	removed := 0
	var errs []error
	for _, k := range keys {
		if err := c.kv.Delete(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	c.logger.InfoContext(ctx, "cache cleared", slog.Int("removed", removed))
	if len(errs) > 0 {
		return removed, fmt.Errorf("clearing cache: %w", errors.Join(errs...))
	}
	return removed, nil
}

// Stats reports count, size and age range of decodable entries.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.kv.Keys(ctx, config.CacheKeyPrefix)
	if err != nil {
		return Stats{}, fmt.Errorf("listing cache keys: %w", err)
	}
	var s Stats
	for _, k := range keys {
		raw, err := c.kv.Get(ctx, k)
		if err != nil {
			continue
		}
		e, reason := c.classify(raw)
		if reason == deadCorrupt {
			continue
		}
		s.Count++
		s.TotalBytes += int64(len(raw))
		at := time.UnixMilli(e.StoredAt).UTC()
		if s.Oldest == nil || at.Before(*s.Oldest) {
			s.Oldest = &at
		}
		if s.Newest == nil || at.After(*s.Newest) {
			s.Newest = &at
		}
	}
	return s, nil
}

func (c *Cache) evict(ctx context.Context, key string, reason deadReason) bool {
	if err := c.kv.Delete(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "cache eviction failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	c.logger.DebugContext(ctx, "cache entry evicted", slog.String("key", key), slog.String("reason", string(reason)))
	if c.metrics != nil {
		c.metrics.evictions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	}
	return true
}

func (c *Cache) miss(ctx context.Context, reason deadReason) {
	if c.metrics != nil {
		c.metrics.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	}
}

func (c *Cache) recovery(ctx context.Context, outcome string) {
	if c.metrics != nil {
		c.metrics.recoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (c *Cache) drop(ctx context.Context, key string, err error) {
	c.logger.WarnContext(ctx, "cache write dropped", slog.String("key", key), slog.String("error", err.Error()))
	if c.metrics != nil {
		c.metrics.dropped.Add(ctx, 1)
	}
}
