package websocket

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics are the websocket instruments. A nil *Metrics records nothing.
type Metrics struct {
	active   metric.Int64UpDownCounter
	total    metric.Int64Counter
	messages metric.Int64Counter
	bytes    metric.Int64Counter
}

// NewMetrics creates the websocket instruments on meter.
func NewMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}
	m.active, _ = meter.Int64UpDownCounter("fontlens_ws_connections_active",
		metric.WithDescription("Open websocket connections"))
	m.total, _ = meter.Int64Counter("fontlens_ws_connections_total",
		metric.WithDescription("Websocket connections accepted"))
	m.messages, _ = meter.Int64Counter("fontlens_ws_messages_sent_total",
		metric.WithDescription("Websocket messages sent"))
	m.bytes, _ = meter.Int64Counter("fontlens_ws_bytes_sent_total",
		metric.WithDescription("Websocket payload bytes sent"),
		metric.WithUnit("By"))
	return m
}

func (m *Metrics) connected(ctx context.Context) {
	if m == nil {
		return
	}
	if m.active != nil {
		m.active.Add(ctx, 1)
	}
	if m.total != nil {
		m.total.Add(ctx, 1)
	}
}

func (m *Metrics) disconnected(ctx context.Context) {
	if m != nil && m.active != nil {
		m.active.Add(ctx, -1)
	}
}

func (m *Metrics) sent(ctx context.Context, n int) {
	if m == nil {
		return
	}
	if m.messages != nil {
		m.messages.Add(ctx, 1)
	}
	if m.bytes != nil {
		m.bytes.Add(ctx, int64(n))
	}
}
