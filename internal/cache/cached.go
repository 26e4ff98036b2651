package cache

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Cached returns the value stored under key, or runs op and stores its result.
// Concurrent misses on the same key share one op call, run with the first
// caller's ctx. An op error is returned as is and nothing is stored. A payload
// that no longer decodes into T is treated as a miss.
func Cached[T any](ctx context.Context, c *Cache, key string, op func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return op(ctx)
	}
	if v, ok := cachedValue[T](ctx, c, key); ok {
		return v, nil
	}

	shared, err, _ := c.flight.Do(key, func() (any, error) {
		// A caller that just finished this key may have stored it already.
		if v, ok := cachedValue[T](ctx, c, key); ok {
			return v, nil
		}
		v, err := op(ctx)
		if err != nil {
			return v, err
		}
		c.Put(ctx, key, v)
		return v, nil
	})
	v, ok := shared.(T)
	if !ok {
		// Another caller used the same key with a different type.
		return op(ctx)
	}
	return v, err
}

func cachedValue[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.WarnContext(ctx, "cached payload does not decode", slog.String("key", key), slog.String("error", err.Error()))
		return v, false
	}
	return v, true
}
