package chain

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/squidspace/sqs/pkg/logger"
)

const meterName = "sqs.chain"

type stageOutcome string

const (
	outcomeComplete stageOutcome = "complete"
	outcomePartial  stageOutcome = "partial"
	outcomeEmpty    stageOutcome = "empty"
	outcomeMissing  stageOutcome = "missing"
)

// stageDurationBuckets spans quick in-process filters up to slow external tools.
var stageDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120}

type metrics struct {
	stages   metric.Int64Counter
	duration metric.Float64Histogram
	runs     metric.Int64Counter
	swaps    metric.Int64Counter
}

func newMetrics(provider metric.MeterProvider, log logger.Logger) *metrics {
	meter := provider.Meter(meterName)
	m := &metrics{}
	var err error
	m.stages, err = meter.Int64Counter(
		"sqs_chain_stages_total",
		metric.WithDescription("Filter stages executed by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		log.Warn("chain metrics: failed to create stage counter", "error", err)
	}
	m.duration, err = meter.Float64Histogram(
		"sqs_chain_stage_duration_seconds",
		metric.WithDescription("Time spent inside one filter stage"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageDurationBuckets...),
	)
	if err != nil {
		log.Warn("chain metrics: failed to create duration histogram", "error", err)
	}
	m.runs, err = meter.Int64Counter(
		"sqs_chain_runs_total",
		metric.WithDescription("Chain runs by result"),
		metric.WithUnit("1"),
	)
	if err != nil {
		log.Warn("chain metrics: failed to create run counter", "error", err)
	}
	m.swaps, err = meter.Int64Counter(
		"sqs_chain_buffer_swaps_total",
		metric.WithDescription("Scratch buffer swaps between filter stages"),
		metric.WithUnit("1"),
	)
	if err != nil {
		log.Warn("chain metrics: failed to create swap counter", "error", err)
	}
	return m
}

func (m *metrics) recordSwap(ctx context.Context) {
	if m.swaps != nil {
		m.swaps.Add(ctx, 1)
	}
}

func (m *metrics) recordStage(ctx context.Context, name string, outcome stageOutcome, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("filter", name),
		attribute.String("outcome", string(outcome)),
	)
	if m.stages != nil {
		m.stages.Add(ctx, 1, attrs)
	}
	if m.duration != nil && outcome != outcomeMissing {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("filter", name)))
	}
}

func (m *metrics) recordRun(ctx context.Context, ok bool) {
	if m.runs == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failed"
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
