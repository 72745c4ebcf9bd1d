package turn

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type turnMetrics struct {
	turns        metric.Int64Counter
	stageLatency metric.Float64Histogram
}

func newTurnMetrics() *turnMetrics {
	meter := otel.Meter("parley.turn")
	turns, err := meter.Int64Counter("parley_turns_total",
		metric.WithDescription("Completed turns by outcome"))
	if err != nil {
		return nil
	}
	stageLatency, err := meter.Float64Histogram("parley_turn_stage_seconds",
		metric.WithDescription("Latency per turn stage"),
		metric.WithUnit("s"))
	if err != nil {
		return nil
	}
	return &turnMetrics{turns: turns, stageLatency: stageLatency}
}

func (m *turnMetrics) recordTurn(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *turnMetrics) recordStage(ctx context.Context, stage string, since time.Time) {
	if m == nil {
		return
	}
	m.stageLatency.Record(ctx, time.Since(since).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}
