package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestHolder(t *testing.T) (*MetricsHolder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := &MetricsHolder{activeMonitors: make(map[string]int64)}
	require.NoError(t, m.InitMetrics(provider.Meter("test")))
	return m, reader
}

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			names[met.Name] = true
		}
	}
	return names
}

func TestRecordExchangeLatency(t *testing.T) {
	m, reader := newTestHolder(t)

	m.RecordExchangeLatency(context.Background(), "primary", "open_orders", 12.5)

	names := collectNames(t, reader)
	assert.True(t, names[MetricLatencyExchange], "latency histogram not exported: %v", names)
}

func TestMetricsHolder_UninitializedIsNoop(t *testing.T) {
	m := &MetricsHolder{activeMonitors: make(map[string]int64)}

	// Must not panic before InitMetrics has run.
	m.RecordExchangeLatency(context.Background(), "primary", "open_orders", 1)
	m.AddFill(context.Background(), "primary")
	m.AddOrderPlaced(context.Background(), "primary")
	m.AddOrderCancelled(context.Background(), "primary")
	m.AddUnprotected(context.Background())
	m.AddPhaseChange(context.Background(), "profit_taking")
}
