package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/streamvit/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.DecoderMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dm, err := observability.NewDecoderMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return dm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()

	m := findMetric(rm, name)
	require.NotNil(t, m, name)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestDecoderMetrics_RecordStep(t *testing.T) {
	t.Parallel()

	dm, reader := setupTestMeter(t)
	ctx := context.Background()

	dm.RecordStep(ctx, observability.StepStats{Duration: time.Microsecond, Nodes: 4, Columns: 3, Pending: 2})
	dm.RecordStep(ctx, observability.StepStats{Nodes: 2, Columns: 1, Emitted: 3, Converged: true})

	rm := collectMetrics(t, reader)

	assert.Equal(t, int64(2), sumOf(t, rm, "streamvit.decoder.updates"))
	assert.Equal(t, int64(1), sumOf(t, rm, "streamvit.decoder.convergences"))
	assert.Equal(t, int64(3), sumOf(t, rm, "streamvit.decoder.emitted.states"))

	nodes := findMetric(rm, "streamvit.decoder.nodes")
	require.NotNil(t, nodes)

	hist, ok := nodes.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(6), hist.DataPoints[0].Sum)

	pending := findMetric(rm, "streamvit.decoder.pending")
	require.NotNil(t, pending)

	gauge, ok := pending.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(0), gauge.DataPoints[0].Value)
}

func TestDecoderMetrics_RecordFlushAndWindow(t *testing.T) {
	t.Parallel()

	dm, reader := setupTestMeter(t)
	ctx := context.Background()

	dm.RecordFlush(ctx, 5, "window")
	dm.RecordWindow(ctx, observability.WindowStats{Duration: time.Millisecond, Length: 5, Match: true})
	dm.RecordWindow(ctx, observability.WindowStats{Length: 5, Mismatches: 2})

	rm := collectMetrics(t, reader)

	assert.Equal(t, int64(1), sumOf(t, rm, "streamvit.decoder.flushes"))
	assert.Equal(t, int64(5), sumOf(t, rm, "streamvit.decoder.emitted.states"))
	assert.Equal(t, int64(2), sumOf(t, rm, "streamvit.session.mismatched.steps"))

	windows := findMetric(rm, "streamvit.session.windows")
	require.NotNil(t, windows)

	sum, ok := windows.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2)
}

func TestDecoderMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var dm *observability.DecoderMetrics

	assert.NotPanics(t, func() {
		dm.RecordStep(context.Background(), observability.StepStats{Nodes: 1})
		dm.RecordFlush(context.Background(), 1, "end")
		dm.RecordWindow(context.Background(), observability.WindowStats{Match: true})
	})
}
