package infrastructure

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeStats is a point-in-time view of the process, served by /api/health.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// RuntimeMetrics publishes goroutine, heap and uptime gauges through
// observable callbacks, so no collection goroutine is needed.
type RuntimeMetrics struct {
	started time.Time
	reg     metric.Registration
}

// NewRuntimeMetrics registers runtime gauges on meter.
func NewRuntimeMetrics(meter metric.Meter, started time.Time) (*RuntimeMetrics, error) {
	goroutines, err := meter.Int64ObservableGauge(
		"fontlens_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}
	heap, err := meter.Int64ObservableGauge(
		"fontlens_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	uptime, err := meter.Float64ObservableGauge(
		"fontlens_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	rm := &RuntimeMetrics{started: started}
	rm.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := rm.Snapshot()
		o.ObserveInt64(goroutines, int64(s.Goroutines))
		o.ObserveInt64(heap, int64(s.HeapAllocMB*1024*1024))
		o.ObserveFloat64(uptime, s.UptimeSeconds)
		return nil
	}, goroutines, heap, uptime)
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// Snapshot reads the current runtime stats.
func (rm *RuntimeMetrics) Snapshot() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeStats{
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / 1024 / 1024,
		NumGC:         ms.NumGC,
		UptimeSeconds: time.Since(rm.started).Seconds(),
	}
}

// Unregister removes the gauge callback.
func (rm *RuntimeMetrics) Unregister() error {
	if rm.reg == nil {
		return nil
	}
	return rm.reg.Unregister()
}
