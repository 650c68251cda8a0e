package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricUpdates       = "streamvit.decoder.updates"
	metricUpdateTime    = "streamvit.decoder.update.duration"
	metricConvergences  = "streamvit.decoder.convergences"
	metricEmitted       = "streamvit.decoder.emitted.states"
	metricNodes         = "streamvit.decoder.nodes"
	metricColumns       = "streamvit.decoder.columns"
	metricPending       = "streamvit.decoder.pending"
	metricFlushes       = "streamvit.decoder.flushes"
	metricWindows       = "streamvit.session.windows"
	metricWindowTime    = "streamvit.session.window.duration"
	metricMismatchSteps = "streamvit.session.mismatched.steps"

	attrMatch  = "match"
	attrReason = "reason"
)

// updateBuckets covers 100ns to 10ms per observation.
var updateBuckets = []float64{1e-7, 5e-7, 1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3, 1e-2}

// windowBuckets covers 1ms to 60s per window.
var windowBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60}

// sizeBuckets covers node and column counts.
var sizeBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 1024, 4096}

// StepStats summarizes one decoder update. It mirrors viterbi.Stats
// without importing the decoder.
type StepStats struct {
	Duration  time.Duration
	Nodes     int
	Columns   int
	Pending   int
	Emitted   int
	Converged bool
}

// WindowStats summarizes one decoded window.
type WindowStats struct {
	Duration   time.Duration
	Length     int
	Match      bool
	Mismatches int
}

// DecoderMetrics holds the decoder and session instruments.
// A nil *DecoderMetrics records nothing.
type DecoderMetrics struct {
	updates      metric.Int64Counter
	updateTime   metric.Float64Histogram
	convergences metric.Int64Counter
	emitted      metric.Int64Counter
	nodes        metric.Int64Histogram
	columns      metric.Int64Histogram
	pending      metric.Int64Gauge
	flushes      metric.Int64Counter
	windows      metric.Int64Counter
	windowTime   metric.Float64Histogram
	mismatches   metric.Int64Counter
}

// NewDecoderMetrics creates the instruments from mt.
func NewDecoderMetrics(mt metric.Meter) (*DecoderMetrics, error) {
	b := newMetricBuilder(mt)

	dm := &DecoderMetrics{
		updates:      b.counter(metricUpdates, "Observations processed", "{observation}"),
		updateTime:   b.histogram(metricUpdateTime, "Time spent in one update", "s", updateBuckets...),
		convergences: b.counter(metricConvergences, "Convergence points found", "{convergence}"),
		emitted:      b.counter(metricEmitted, "States emitted to the sink", "{state}"),
		nodes:        b.sizeHistogram(metricNodes, "Live survivor nodes after an update", "{node}", sizeBuckets...),
		columns:      b.sizeHistogram(metricColumns, "Retained trellis columns after an update", "{column}", sizeBuckets...),
		pending:      b.gauge(metricPending, "Processed steps awaiting emission", "{step}"),
		flushes:      b.counter(metricFlushes, "Decoder flushes", "{flush}"),
		windows:      b.counter(metricWindows, "Windows decoded", "{window}"),
		windowTime:   b.histogram(metricWindowTime, "Time spent decoding one window", "s", windowBuckets...),
		mismatches:   b.counter(metricMismatchSteps, "Steps where the online and batch paths differ", "{step}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return dm, nil
}

// RecordStep records one decoder update.
func (dm *DecoderMetrics) RecordStep(ctx context.Context, s StepStats) {
	if dm == nil {
		return
	}

	dm.updates.Add(ctx, 1)
	dm.updateTime.Record(ctx, s.Duration.Seconds())
	dm.nodes.Record(ctx, int64(s.Nodes))
	dm.columns.Record(ctx, int64(s.Columns))
	dm.pending.Record(ctx, int64(s.Pending))

	if s.Emitted > 0 {
		dm.emitted.Add(ctx, int64(s.Emitted))
	}

	if s.Converged {
		dm.convergences.Add(ctx, 1)
	}
}

// RecordFlush records a flush that emitted the given number of states.
func (dm *DecoderMetrics) RecordFlush(ctx context.Context, emitted int, reason string) {
	if dm == nil {
		return
	}

	dm.flushes.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
	dm.pending.Record(ctx, 0)

	if emitted > 0 {
		dm.emitted.Add(ctx, int64(emitted))
	}
}

// RecordWindow records a finished window.
func (dm *DecoderMetrics) RecordWindow(ctx context.Context, w WindowStats) {
	if dm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool(attrMatch, w.Match))

	dm.windows.Add(ctx, 1, attrs)
	dm.windowTime.Record(ctx, w.Duration.Seconds(), attrs)

	if w.Mismatches > 0 {
		dm.mismatches.Add(ctx, int64(w.Mismatches))
	}
}
