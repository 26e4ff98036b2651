package cache

import (
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	hits       metric.Int64Counter
	misses     metric.Int64Counter
	evictions  metric.Int64Counter
	recoveries metric.Int64Counter
	dropped    metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var m metrics
	var err error
	if m.hits, err = meter.Int64Counter("fontlens_cache_hits_total",
		metric.WithDescription("Result cache hits")); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter("fontlens_cache_misses_total",
		metric.WithDescription("Result cache misses by reason")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("fontlens_cache_evictions_total",
		metric.WithDescription("Entries removed as expired, stale, corrupt or oldest")); err != nil {
		return nil, err
	}
	if m.recoveries, err = meter.Int64Counter("fontlens_cache_quota_recoveries_total",
		metric.WithDescription("Quota recovery runs by outcome")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("fontlens_cache_dropped_writes_total",
		metric.WithDescription("Writes abandoned after a failed store")); err != nil {
		return nil, err
	}
	return &m, nil
}
