package coordinator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ssd-technologies/crosslearn/internal/coordinator"

type metrics struct {
	cycles     metric.Int64Counter
	insights   metric.Int64Counter
	deliveries metric.Int64Counter
	duration   metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &metrics{}
	var err error

	m.cycles, err = meter.Int64Counter("crosslearn.cycles",
		metric.WithDescription("Cross-learning cycles completed"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}
	m.insights, err = meter.Int64Counter("crosslearn.insights",
		metric.WithDescription("Insights produced by trainers"),
		metric.WithUnit("{insight}"),
	)
	if err != nil {
		return nil, err
	}
	m.deliveries, err = meter.Int64Counter("crosslearn.deliveries",
		metric.WithDescription("Queue entry hand-offs by result"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}
	m.duration, err = meter.Float64Histogram("crosslearn.cycle.duration",
		metric.WithDescription("Cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) recordCycle(ctx context.Context, res *CycleResult, insights int) {
	m.cycles.Add(ctx, 1)
	m.insights.Add(ctx, int64(insights))
	m.duration.Record(ctx, res.Duration.Seconds())
}

func (m *metrics) recordDelivery(ctx context.Context, o outcome) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("result", o.String())))
}
