package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "brandlift/api"

// Metrics holds the workflow instruments.
type Metrics struct {
	TransitionsTotal metric.Int64Counter
	ReordersTotal    metric.Int64Counter
	ReorderSize      metric.Int64Histogram
	RejectedTotal    metric.Int64Counter
}

// NewMetrics registers instruments against provider; nil uses the global provider.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := &Metrics{}
	m.TransitionsTotal, _ = meter.Int64Counter(
		"brandlift.study.transitions.total",
		metric.WithDescription("Study status transitions applied"),
		metric.WithUnit("{transition}"),
	)
	m.ReordersTotal, _ = meter.Int64Counter(
		"brandlift.reorder.total",
		metric.WithDescription("Reorder batches by parent kind and result"),
		metric.WithUnit("{batch}"),
	)
	m.ReorderSize, _ = meter.Int64Histogram(
		"brandlift.reorder.size",
		metric.WithDescription("Number of children named in a reorder batch"),
		metric.WithUnit("{item}"),
	)
	m.RejectedTotal, _ = meter.Int64Counter(
		"brandlift.mutations.rejected.total",
		metric.WithDescription("Mutations rejected by the guard or state machine"),
		metric.WithUnit("{request}"),
	)
	return m
}

func (m *Metrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) Reorder(ctx context.Context, parent, result string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("parent", parent),
		attribute.String("result", result),
	)
	m.ReordersTotal.Add(ctx, 1, attrs)
	m.ReorderSize.Record(ctx, int64(size), attrs)
}

func (m *Metrics) Rejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
