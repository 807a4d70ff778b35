package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "verichat", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderEnabled(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = true
	config.Insecure = true
	config.OTLPEndpoint = "127.0.0.1:4317"

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	_, done := p.TrackOperation(context.Background(), "attest")
	done(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestNewPipeline_ServiceResource(t *testing.T) {
	config := DefaultConfig()
	config.ServiceName = "verichat-test"
	p, err := newPipeline(config, sdktrace.WithSyncer(tracetest.NewInMemoryExporter()), sdkmetric.NewManualReader())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.Tracer().Start(context.Background(), "resource")
	span.End()
	ro, ok := span.(sdktrace.ReadOnlySpan)
	require.True(t, ok)
	name, found := ro.Resource().Set().Value("service.name")
	require.True(t, found)
	assert.Equal(t, "verichat-test", name.AsString())
}

func TestTrackOperation_NilProvider(t *testing.T) {
	var p *Provider
	_, done := p.TrackOperation(context.Background(), "attest")
	done(errors.New("boom"))
	p.RecordCheck(context.Background(), "chat", true)
	require.NoError(t, p.Shutdown(context.Background()))
}

func newTestPipeline(t *testing.T) (*Provider, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	p, err := newPipeline(DefaultConfig(), sdktrace.WithSyncer(spans), reader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, spans, reader
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTrackOperation_Records(t *testing.T) {
	p, spans, reader := newTestPipeline(t)
	ctx := context.Background()

	_, done := p.TrackOperation(ctx, "share.open", attribute.String("id", "abc"))
	done(nil)
	_, done = p.TrackOperation(ctx, "share.open")
	done(errors.New("wrong passphrase"))

	got := spans.GetSpans()
	require.Len(t, got, 2)
	assert.Equal(t, "share.open", got[0].Name)
	assert.Equal(t, codes.Unset, got[0].Status.Code)
	assert.Equal(t, codes.Error, got[1].Status.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(2), sumOf(t, rm, "verichat.operations.total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "verichat.errors.total"))
	assert.Equal(t, int64(0), sumOf(t, rm, "verichat.operations.active"))
}

func TestRecordCheck(t *testing.T) {
	p, _, reader := newTestPipeline(t)
	ctx := context.Background()

	p.RecordCheck(ctx, "chat", true)
	p.RecordCheck(ctx, "model_tdx", false)
	p.RecordCheck(ctx, "model_tdx", false)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(3), sumOf(t, rm, "verichat.verifier.checks"))
}
